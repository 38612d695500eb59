package types

import (
	"fmt"
	"strings"
)

// ValueSourceKind tags the variants of the value-source expression.
type ValueSourceKind string

const (
	SourceIP       ValueSourceKind = "ip"
	SourceHostname ValueSourceKind = "hostname"
	SourceTag      ValueSourceKind = "tag"
)

// AddressFamily selects v4 or v6 for IP sources.
type AddressFamily string

const (
	FamilyV4 AddressFamily = "v4"
	FamilyV6 AddressFamily = "v6"
)

// Visibility selects the public or private attribute of an instance.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// ValueSource is the parsed form of expressions like "ip:v4:private",
// "hostname:public" or "tag:ci:name". It is parsed once when the config is
// loaded; evaluation never re-parses strings.
type ValueSource struct {
	Kind          ValueSourceKind
	Family        AddressFamily
	Visibility    Visibility
	TagKey        string
	CaseSensitive bool
}

func (s ValueSource) String() string {
	switch s.Kind {
	case SourceIP:
		return fmt.Sprintf("ip:%s:%s", s.Family, s.Visibility)
	case SourceHostname:
		return fmt.Sprintf("hostname:%s", s.Visibility)
	case SourceTag:
		if s.CaseSensitive {
			return fmt.Sprintf("tag:cs:%s", s.TagKey)
		}
		return fmt.Sprintf("tag:ci:%s", s.TagKey)
	}
	return string(s.Kind)
}

// ParseValueSource parses a value-source expression.
//
// Accepted forms:
//
//	ip[:v4|v6][:public|private]   defaults: v4, private
//	hostname[:public|private]     default: private
//	tag:<key>                     case-sensitive lookup
//	tag:cs:<key>  tag:ci:<key>    explicit case mode
func ParseValueSource(expr string) (ValueSource, error) {
	parts := strings.Split(strings.TrimSpace(expr), ":")
	if len(parts) == 0 || parts[0] == "" {
		return ValueSource{}, fmt.Errorf("empty expression")
	}
	kind := ValueSourceKind(strings.ToLower(parts[0]))
	switch kind {
	case SourceIP:
		src := ValueSource{Kind: SourceIP, Family: FamilyV4, Visibility: VisibilityPrivate}
		for _, p := range parts[1:] {
			switch strings.ToLower(p) {
			case "v4":
				src.Family = FamilyV4
			case "v6":
				src.Family = FamilyV6
			case "public":
				src.Visibility = VisibilityPublic
			case "private":
				src.Visibility = VisibilityPrivate
			default:
				return ValueSource{}, fmt.Errorf("unknown ip selector %q", p)
			}
		}
		return src, nil
	case SourceHostname:
		src := ValueSource{Kind: SourceHostname, Visibility: VisibilityPrivate}
		if len(parts) > 2 {
			return ValueSource{}, fmt.Errorf("too many hostname selectors")
		}
		if len(parts) == 2 {
			switch strings.ToLower(parts[1]) {
			case "public":
				src.Visibility = VisibilityPublic
			case "private":
				src.Visibility = VisibilityPrivate
			default:
				return ValueSource{}, fmt.Errorf("unknown hostname selector %q", parts[1])
			}
		}
		return src, nil
	case SourceTag:
		if len(parts) < 2 {
			return ValueSource{}, fmt.Errorf("tag source requires a key")
		}
		src := ValueSource{Kind: SourceTag, CaseSensitive: true}
		rest := parts[1:]
		switch strings.ToLower(rest[0]) {
		case "cs", "ci":
			if len(rest) < 2 {
				return ValueSource{}, fmt.Errorf("tag source requires a key")
			}
			src.CaseSensitive = strings.ToLower(rest[0]) == "cs"
			rest = rest[1:]
		}
		// Tag keys may themselves contain colons.
		src.TagKey = strings.Join(rest, ":")
		return src, nil
	}
	return ValueSource{}, fmt.Errorf("unknown source kind %q", parts[0])
}

// EmptyMode tags the variants of the empty-record policy.
type EmptyMode string

const (
	// EmptyKeep leaves the existing record untouched.
	EmptyKeep EmptyMode = "KEEP"
	// EmptyDelete removes the record.
	EmptyDelete EmptyMode = "DELETE"
	// EmptyFixed replaces the record contents with a literal value.
	EmptyFixed EmptyMode = "FIXED"
)

// EmptyRecordPolicy is the parsed form of "KEEP", "DELETE" or "FIXED:<v>".
// It decides what happens when the desired value set becomes empty.
type EmptyRecordPolicy struct {
	Mode       EmptyMode
	FixedValue string
}

// ParseEmptyPolicy parses an empty-record policy expression. An empty
// expression defaults to KEEP.
func ParseEmptyPolicy(expr string) (EmptyRecordPolicy, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return EmptyRecordPolicy{Mode: EmptyKeep}, nil
	}
	mode, value, _ := strings.Cut(expr, ":")
	switch EmptyMode(strings.ToUpper(mode)) {
	case EmptyKeep:
		return EmptyRecordPolicy{Mode: EmptyKeep}, nil
	case EmptyDelete:
		return EmptyRecordPolicy{Mode: EmptyDelete}, nil
	case EmptyFixed:
		if value == "" {
			return EmptyRecordPolicy{}, fmt.Errorf("FIXED policy requires a value")
		}
		return EmptyRecordPolicy{Mode: EmptyFixed, FixedValue: value}, nil
	}
	return EmptyRecordPolicy{}, fmt.Errorf("unknown empty mode %q", mode)
}
