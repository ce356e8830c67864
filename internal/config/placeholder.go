package config

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
)

// placeholderRe matches an unfilled template token such as <AWS_S3_Bucket>,
// <FACT/DIM_TABLE_NAME> or <Column_...N>. A token starts with a letter and
// holds no whitespace, so comparisons like "a < b" are not flagged.
var placeholderRe = regexp.MustCompile(`<[A-Za-z][^<>\s]*>`)

// placeholders lists "path (<TOKEN>)" for every string field of v that still
// carries a placeholder. Paths follow the mapstructure keys.
func placeholders(v any) []string {
	var out []string
	collectPlaceholders(reflect.ValueOf(v), "", &out)
	return out
}

func collectPlaceholders(v reflect.Value, path string, out *[]string) {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if !v.IsNil() {
			collectPlaceholders(v.Elem(), path, out)
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
			if name == "" {
				name = strings.ToLower(f.Name)
			}
			collectPlaceholders(v.Field(i), joinPath(path, name), out)
		}
	case reflect.Map:
		keys := make([]string, 0, v.Len())
		byName := make(map[string]reflect.Value, v.Len())
		for _, k := range v.MapKeys() {
			name := fmt.Sprint(k.Interface())
			keys = append(keys, name)
			byName[name] = v.MapIndex(k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectPlaceholders(byName[k], joinPath(path, k), out)
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			collectPlaceholders(v.Index(i), fmt.Sprintf("%s[%d]", path, i), out)
		}
	case reflect.String:
		if tok := placeholderRe.FindString(v.String()); tok != "" {
			*out = append(*out, fmt.Sprintf("%s (%s)", path, tok))
		}
	}
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
