package typeid

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/pkg/errors"
	"github.com/speps/go-hashids/v2"
)

const (
	base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
	slugSize       = 7
	slugNumBytes   = 4
	suffixNumBytes = 12
	suffixBase     = 62
)

// slugCoder is shared by every encode and decode. Construction can only
// fail for a bad alphabet or length, both fixed here, so it panics at
// package init instead of returning errors from every call.
var slugCoder = mustSlugCoder()

func mustSlugCoder() *hashids.HashID {
	h, err := hashids.NewWithData(&hashids.HashIDData{
		Alphabet: base58Alphabet,
		// A uint32 fits in 6 base58 characters; hashids stretches some
		// values to 7 while steering around curse words, so this is not
		// a strict base58 encoding.
		MinLength: slugSize,
	})
	if err != nil {
		panic(err)
	}
	return h
}

// encodeSlug renders the id's first 4 bytes as the short display slug.
func encodeSlug(bytes []byte) string {
	encoded, err := slugCoder.EncodeInt64([]int64{int64(binary.BigEndian.Uint32(bytes))})
	if err != nil {
		panic(err)
	}
	return encoded
}

func decodeSlug(data string) ([]byte, error) {
	decoded, err := slugCoder.DecodeInt64WithError(data)
	if err != nil {
		return nil, errors.Wrapf(err, "not a valid slug: %q", data)
	}
	if len(decoded) == 0 {
		return nil, errors.Errorf("not a valid slug: %q", data)
	}
	bytes := make([]byte, slugNumBytes)
	binary.BigEndian.PutUint32(bytes, uint32(decoded[0]))
	return bytes, nil
}

// The suffix carries the remaining 12 bytes in base62, zero-padded to a
// fixed width so ids sort and compare as plain strings.
func encodeSuffix(data []byte) string {
	bigInt := &big.Int{}
	bigInt.SetBytes(data)
	return fmt.Sprintf("%017s", bigInt.Text(suffixBase))
}

func decodeSuffix(data string) []byte {
	bigInt := &big.Int{}
	bigInt.SetString(data, suffixBase)
	bytes := make([]byte, suffixNumBytes)
	bigInt.FillBytes(bytes)
	return bytes
}
