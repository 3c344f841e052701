package message

import (
	"sort"
	"strings"
)

// Serialize renders c back into a wire line, including the trailing CRLF.
// It is the inverse of Parse: for every well-formed Command, re-parsing the
// result yields an equal Command.
func Serialize(c *Command) (string, error) {
	var b strings.Builder

	if len(c.Tags) > 0 {
		tagSection, err := serializeTags(c.Tags)
		if err != nil {
			return "", err
		}
		b.WriteByte('@')
		b.WriteString(tagSection)
		b.WriteByte(' ')
	}

	if c.Source != "" {
		if strings.ContainsAny(c.Source, " \x00\r\n") {
			return "", &InvalidCharacters{Field: "source", Value: c.Source}
		}
		b.WriteByte(':')
		b.WriteString(c.Source)
		b.WriteByte(' ')
	}

	if c.Verb == "" {
		return "", &MalformedLine{Line: "empty verb"}
	}
	b.WriteString(c.Verb)

	if len(c.Args) > maxParams {
		return "", &MalformedLine{Line: "too many arguments"}
	}

	for i, arg := range c.Args {
		if strings.ContainsAny(arg, "\x00\r\n") {
			return "", &InvalidCharacters{Field: "argument", Value: arg}
		}
		isLast := i == len(c.Args)-1
		needsColon := arg == "" || strings.ContainsRune(arg, ' ') || strings.HasPrefix(arg, ":")
		if needsColon && !isLast {
			return "", &MalformedLine{Line: "only the final argument may contain spaces or be empty"}
		}
		b.WriteByte(' ')
		if needsColon {
			b.WriteByte(':')
		}
		b.WriteString(arg)
	}

	b.WriteString("\r\n")

	line := b.String()
	tagEnd := 0 // byte offset of the space separating tags from the body
	if len(c.Tags) > 0 {
		tagEnd = strings.IndexByte(line, ' ')
	}
	bodyLen := len(line) - tagEnd
	if tagEnd > 0 {
		bodyLen-- // don't charge the tag/body separator space to either budget
	}
	if bodyLen > MaxLineBytes {
		return "", &CommandTooLong{Bytes: bodyLen}
	}
	if tagEnd > 0 {
		limit := MaxClientTagBytes
		if c.Direction == ServerIn {
			limit = MaxServerTagBytes
		}
		// tagEnd counts "@" + tags, not the trailing space.
		if tagEnd > limit {
			return "", &TagsTooLong{Bytes: tagEnd, Limit: limit}
		}
	}

	return line, nil
}

func serializeTags(tags map[string]TagValue) (string, error) {
	if len(tags) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	// Stable, deterministic output: sort lexically. Order of tags is not
	// semantically meaningful per IRCv3, so this does not affect
	// parse(serialize(c)) == c.
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if !validTagKey(k) {
			return "", &InvalidCharacters{Field: "tag key", Value: k}
		}
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		v := tags[k]
		if !v.Absent() {
			b.WriteByte('=')
			b.WriteString(encodeTagValue(v.String()))
		}
	}
	return b.String(), nil
}

// encodeTagValue is the inverse of decodeTagValue.
func encodeTagValue(v string) string {
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case ';':
			b.WriteString(`\:`)
		case ' ':
			b.WriteString(`\s`)
		case '\r':
			b.WriteString(`\r`)
		case '\n':
			b.WriteString(`\n`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteByte(v[i])
		}
	}
	return b.String()
}
