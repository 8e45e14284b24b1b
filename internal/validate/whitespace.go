package validate

import (
	"reflect"
	"strings"
)

// CleanWhitespace trims leading and trailing whitespace from every string
// reachable from v through struct fields, pointers, slices, arrays and maps.
// v must be a pointer for struct fields to be updated in place. Applying it
// twice yields the same values as applying it once.
func CleanWhitespace(v any) {
	cleanValue(reflect.ValueOf(v))
}

func cleanValue(v reflect.Value) {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return
		}
		if v.Kind() == reflect.Interface {
			if cleaned, ok := cleanedCopy(v.Elem()); ok && v.CanSet() {
				v.Set(cleaned)
			}
			return
		}
		cleanValue(v.Elem())

	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if !v.Type().Field(i).IsExported() {
				continue
			}
			cleanValue(v.Field(i))
		}

	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			cleanValue(v.Index(i))
		}

	case reflect.Map:
		if v.IsNil() {
			return
		}
		iter := v.MapRange()
		for iter.Next() {
			if cleaned, ok := cleanedCopy(iter.Value()); ok {
				v.SetMapIndex(iter.Key(), cleaned)
			}
		}

	case reflect.String:
		if v.CanSet() {
			v.SetString(strings.TrimSpace(v.String()))
		}
	}
}

// cleanedCopy returns a cleaned copy of a value that is not addressable in
// place (map values, interface contents)
func cleanedCopy(v reflect.Value) (reflect.Value, bool) {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return v, false
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.String:
		return reflect.ValueOf(strings.TrimSpace(v.String())).Convert(v.Type()), true
	case reflect.Map, reflect.Slice, reflect.Pointer:
		cleanValue(v)
		return v, false
	case reflect.Struct:
		cp := reflect.New(v.Type()).Elem()
		cp.Set(v)
		cleanValue(cp)
		return cp, true
	}
	return v, false
}
