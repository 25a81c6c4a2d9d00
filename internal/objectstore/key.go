package objectstore

import "strings"

// NormalizePrefix turns an archive location into a bucket-relative key
// prefix. "s3://bucket/chunks" and "chunks/" both become "chunks/", and an
// empty location or a bare bucket URL yields "".
func NormalizePrefix(location string) string {
	p := location
	if rest, ok := strings.CutPrefix(p, "s3://"); ok {
		_, p, _ = strings.Cut(rest, "/")
	}
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}
