// Package canonicalize implements the deterministic byte form every signed
// artifact in the core is serialized to before hashing and signing, per
// RFC 8785 (JSON Canonicalization Scheme): object keys sorted
// lexicographically by UTF-16 code unit, no insignificant whitespace,
// and no HTML-escaping. Numbers are written in the form encoding/json
// produces for the input value; number text carried in a json.Number or
// json.RawMessage is kept as given and not re-formatted.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// JCS renders v as RFC 8785 canonical JSON bytes. v is first marshaled with
// the standard encoder (so struct tags and field ordering-by-name apply),
// then decoded into json.Number-preserving generic values and re-emitted
// through marshalRecursive so map keys sort and numbers keep their original
// textual precision.
func JCS(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicalize: decode: %w", err)
	}

	var buf bytes.Buffer
	if err := marshalRecursive(&buf, generic); err != nil {
		return nil, fmt.Errorf("canonicalize: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// CanonicalHash returns the hex-encoded SHA-256 digest of v's canonical
// bytes. Two values that are semantically identical but constructed through
// different Go paths (map literal vs. struct-via-JSON) hash identically.
func CanonicalHash(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes hex-encodes the SHA-256 digest of already-canonical bytes.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// JCSString is JCS with a string result.
func JCSString(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// NormalizeStrings walks generic JSON-decoded values (maps, slices, strings)
// and replaces every string with its NFC-normalized form, so two byte
// sequences that render identically but differ in Unicode composition never
// produce different canonical bytes. Call this on decoded event_data/policy
// bodies before JCS when the value came from an external, untrusted wire
// form.
func NormalizeStrings(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return norm.NFC.String(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = NormalizeStrings(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, e := range val {
			out[norm.NFC.String(k)] = NormalizeStrings(e)
		}
		return out
	default:
		return val
	}
}

func marshalRecursive(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(val.String())
	case string:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(disableHTMLEscape(b))
	case []interface{}:
		buf.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := marshalRecursive(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			a, b := utf16.Encode([]rune(keys[i])), utf16.Encode([]rune(keys[j]))
			for n := 0; n < len(a) && n < len(b); n++ {
				if a[n] != b[n] {
					return a[n] < b[n]
				}
			}
			return len(a) < len(b)
		})
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(disableHTMLEscape(kb))
			buf.WriteByte(':')
			if err := marshalRecursive(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonicalize: unsupported type %T", v)
	}
	return nil
}

// disableHTMLEscape undoes encoding/json's default HTML escaping of
// <, >, and & so canonical bytes match what a non-Go canonicalizer
// (the signing tool that authored a policy file, for example) would emit.
func disableHTMLEscape(b []byte) []byte {
	b = bytes.ReplaceAll(b, []byte("\\u003c"), []byte("<"))
	b = bytes.ReplaceAll(b, []byte("\\u003e"), []byte(">"))
	b = bytes.ReplaceAll(b, []byte("\\u0026"), []byte("&"))
	return b
}
