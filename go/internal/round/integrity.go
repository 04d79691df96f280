package round

// CheckTag reports whether the first tagLen bytes of data equal the tag.
// It fails when dataLen is smaller than tagLen. Bytes past tagLen are never
// inspected. This only detects accidental damage; it offers no security.
func CheckTag(data []byte, dataLen int, tag []byte, tagLen int) bool {
	if dataLen < tagLen || len(data) < tagLen || len(tag) < tagLen {
		return false
	}
	for i := 0; i < tagLen; i++ {
		if data[i] != tag[i] {
			return false
		}
	}
	return true
}
