package typeid

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

const SlugLength = 7

type TypeID struct {
	typeStr   string
	slugStr   string
	suffixStr string
	value     [16]byte
}

var typeIDRegex = regexp.MustCompile(`^([a-z0-9]+)_([a-zA-Z0-9]{22,24})$`)

// Generates a random TypeID with the given type prefix. The prefix should be
// a short lowercase word naming the kind of entity, e.g. "shell".
func New(typePrefix string) *TypeID {
	uid := uuid.New()

	id := &TypeID{
		typeStr: typePrefix,
		value:   uid,
	}
	return id
}

// Returns a typeID given a string, or nil if the string is not in the
// ([a-z0-9]+)_([a-zA-Z0-9]+) format. Useful for validating ids that arrive
// over the command API before touching any state keyed by them.
func FromString(idStr string) *TypeID {
	matches := typeIDRegex.FindAllStringSubmatch(idStr, -1)
	if len(matches) > 0 {
		match := matches[0] // [full, prefix, slug+suffix]
		return &TypeID{
			typeStr:   match[1],
			slugStr:   match[2][0:SlugLength],
			suffixStr: match[2][SlugLength:],
			// value stays zero: parsed ids are only ever compared by
			// their string form, nothing reads the bytes back.
		}
	}

	return nil
}

// Returns the 16 random bytes behind the id, a valid UUID v4.
// Zero for ids built with FromString.
func (id *TypeID) Bytes() []byte {
	return id.value[:]
}

// Returns the type prefix
func (id *TypeID) Type() string {
	return id.typeStr
}

// Returns the 7-character, URL-friendly slug: the leading portion of the
// random part of the id. Slugs stick to the base58 character set so no two
// easily-confused glyphs appear, and the encoder avoids spelling the most
// common curse words.
func (id *TypeID) Slug() string {
	if id.slugStr == "" {
		// first 4 bytes
		id.slugStr = encodeSlug(id.value[:slugNumBytes])
	}
	return id.slugStr
}

// The non-slug bytes of the id in base62, zero-padded to 17 characters so
// ids of the same type always have the same length.
func (id *TypeID) suffix() string {
	if id.suffixStr == "" {
		// the first 4 bytes belong to the slug
		id.suffixStr = encodeSuffix(id.value[slugNumBytes:])
	}
	return id.suffixStr
}

// The full string form, e.g. shell_1234567abcdefghijklmnopq: the type
// prefix from creation time, an underscore, the 7-character base58 slug,
// then the 17-character base62 suffix.
func (id *TypeID) String() string {
	return fmt.Sprintf("%s_%s%s", id.Type(), id.Slug(), id.suffix())
}
