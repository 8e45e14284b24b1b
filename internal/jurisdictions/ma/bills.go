package ma

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/legiscrape/internal/extract"
	"github.com/ppiankov/legiscrape/internal/model"
	"github.com/ppiankov/legiscrape/internal/pipeline"
)

var (
	billIDPattern = regexp.MustCompile(`^([A-Z]+)\s*(\d+)$`)
	rollCall      = regexp.MustCompile(`(?i)(\d+)\s+YEAS?\s+to\s+(\d+)\s+NAYS?`)
)

// actionTypes classify history entries by prefix
var actionTypes = []struct {
	prefix string
	class  string
}{
	{"Referred to the committee", "referral-committee"},
	{"Reported favorably", "committee-passage-favorable"},
	{"Reported unfavorably", "committee-passage-unfavorable"},
	{"Read second", "reading-2"},
	{"Read third", "reading-3"},
	{"Passed to be engrossed", "passage"},
	{"Enacted", "passage"},
	{"Amendment", "amendment-introduction"},
	{"Signed by the Governor", "executive-signature"},
	{"Vetoed by the Governor", "executive-veto"},
}

// courtNumber turns "194th" into "194"
func courtNumber(session string) string {
	return strings.TrimRightFunc(session, func(r rune) bool { return r < '0' || r > '9' })
}

func searchURL(session string, page int) string {
	q := url.Values{
		"SearchTerms":                    {""},
		"Page":                           {strconv.Itoa(page)},
		"Refinements[lawsgeneralcourt]": {courtNumber(session)},
	}
	return baseURL + "/Bills/Search?" + q.Encode()
}

// scrapeBills walks the paginated bill search for one session and yields
// each bill with its roll-call votes
func scrapeBills(ctx context.Context, env *pipeline.Env, args pipeline.Args) iter.Seq2[model.Entity, error] {
	session := args["session"]
	return func(yield func(model.Entity, error) bool) {
		next := searchURL(session, 1)
		for next != "" {
			resp, err := env.Fetcher.Get(ctx, next)
			if err != nil {
				yield(nil, fmt.Errorf("bill search: %w", err))
				return
			}
			page, err := extract.Parse(resp.Body, next)
			if err != nil {
				yield(nil, err)
				return
			}

			for _, link := range page.Links("#searchTable a.billNumber") {
				bill, err := scrapeBill(ctx, env, session, link.URL)
				var se *pipeline.StatusError
				if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
					env.Logger.Warn("bill page missing, skipping", "url", link.URL)
					if !yield(nil, pipeline.ErrSkip) {
						return
					}
					continue
				}
				if err != nil {
					yield(nil, fmt.Errorf("bill %s: %w", link.URL, err))
					return
				}
				if !yield(bill, nil) {
					return
				}
			}

			next = ""
			if href, ok := page.Find(`ul.pagination a[rel="next"]`).First().Attr("href"); ok {
				next = page.Resolve(href)
			}
		}
	}
}

func scrapeBill(ctx context.Context, env *pipeline.Env, session, billURL string) (*model.Bill, error) {
	resp, err := env.Fetcher.Get(ctx, billURL)
	if err != nil {
		return nil, err
	}
	page, err := extract.Parse(resp.Body, billURL)
	if err != nil {
		return nil, err
	}

	identifier := page.Text("#billNumber")
	if identifier == "" {
		identifier = path.Base(billURL)
	}
	identifier = formatIdentifier(identifier)

	bill := model.NewBill(identifier, session, page.Text("h2#pageTitle"))
	bill.FromOrganization = chamberOf(identifier)
	bill.Classification = []string{"bill"}
	bill.AddSource(billURL, "")

	if summary := page.Text("#pinslip"); summary != "" {
		bill.AddAbstract(summary, "summary")
	}
	for _, sponsor := range page.Links("#billSponsor a") {
		bill.AddSponsorship(sponsor.Text, "primary", "person", true)
	}
	for _, cosponsor := range page.Links("#billCosponsors a") {
		bill.AddSponsorship(cosponsor.Text, "cosponsor", "person", false)
	}
	for _, text := range page.Links("#billText a") {
		if _, err := bill.AddVersionLink(text.Text, text.URL, extract.MediaType(text.URL)); err != nil {
			env.Logger.Warn("duplicate bill text", "bill", identifier, "url", text.URL, "error", err)
		}
	}

	for _, row := range page.Table("#billHistory") {
		if len(row) < 3 {
			continue
		}
		date, err := time.Parse("1/2/2006", row[0])
		if err != nil {
			env.Logger.Warn("unparseable action date", "bill", identifier, "date", row[0])
			continue
		}
		org := branchOrganization(row[1])
		bill.AddAction(row[2], model.DateOf(date), org, classifyAction(row[2])...)

		if vote := voteFromAction(bill, row[2], date, org); vote != nil {
			vote.AddSource(billURL, "")
			bill.Own(vote)
		}
	}
	return bill, nil
}

// formatIdentifier normalizes "H1" and "h 1" to "H 1"
func formatIdentifier(id string) string {
	id = strings.ToUpper(strings.TrimSpace(id))
	if m := billIDPattern.FindStringSubmatch(id); m != nil {
		return m[1] + " " + m[2]
	}
	return id
}

func chamberOf(identifier string) string {
	switch {
	case strings.HasPrefix(identifier, "H"):
		return "lower"
	case strings.HasPrefix(identifier, "S"):
		return "upper"
	}
	return "legislature"
}

func branchOrganization(branch string) string {
	switch strings.ToLower(branch) {
	case "house":
		return "lower"
	case "senate":
		return "upper"
	}
	return "legislature"
}

func classifyAction(action string) []string {
	for _, t := range actionTypes {
		if strings.HasPrefix(action, t.prefix) {
			return []string{t.class}
		}
	}
	return nil
}

// voteFromAction builds a vote event from a history entry with a roll call
func voteFromAction(bill *model.Bill, action string, date time.Time, org string) *model.VoteEvent {
	m := rollCall.FindStringSubmatch(action)
	if m == nil {
		return nil
	}
	yes, _ := strconv.Atoi(m[1])
	no, _ := strconv.Atoi(m[2])

	result := "fail"
	if yes > no {
		result = "pass"
	}
	motion := strings.TrimSpace(action[:strings.Index(action, m[0])])
	motion = strings.TrimRight(motion, " -")
	if motion == "" {
		motion = action
	}

	vote := model.NewVoteEvent(bill.LegislativeSession, motion, result)
	vote.BillIdentifier = bill.Identifier
	vote.StartDate = model.DateOf(date)
	vote.Organization = org
	vote.MotionClassification = classifyAction(action)
	vote.SetCount("yes", yes)
	vote.SetCount("no", no)
	return vote
}
