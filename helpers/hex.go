package helpers

import (
	"encoding/hex"
	"strings"
)

func MustHex(s string) []byte {
	b, err := hex.DecodeString(strings.Replace(s, " ", "", -1))
	if err != nil {
		panic(err)
	}
	return b
}

// HexGroups formats bytes as hex split into groups of n bytes, "a5019008 01020304".
func HexGroups(b []byte, n int) string {
	h := hex.EncodeToString(b)
	step := n * 2
	if step <= 0 || len(h) <= step {
		return h
	}
	ss := make([]string, 0, len(h)/step+1)
	for i := 0; i < len(h); i += step {
		hi := i + step
		if hi > len(h) {
			hi = len(h)
		}
		ss = append(ss, h[i:hi])
	}
	return strings.Join(ss, " ")
}
