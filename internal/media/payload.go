package media

import (
	"encoding/base64"
	"net/http"
	"regexp"
	"strings"
)

// Payload is either a data URI (as sent by browsers) or raw bytes from a
// multipart upload. Exactly one of the two is set.
type Payload struct {
	DataURI  string
	Data     []byte
	Filename string
}

func DataURIPayload(dataURI string) Payload {
	return Payload{DataURI: strings.TrimSpace(dataURI)}
}

func BinaryPayload(data []byte, filename string) Payload {
	if filename == "" {
		filename = "upload"
	}
	return Payload{Data: data, Filename: filename}
}

func (p Payload) Empty() bool {
	return p.DataURI == "" && len(p.Data) == 0
}

// Size is the decoded byte size, computed without decoding.
func (p Payload) Size() int64 {
	if len(p.Data) > 0 {
		return int64(len(p.Data))
	}
	header, body, ok := strings.Cut(p.DataURI, ",")
	if !ok {
		return int64(len(p.DataURI))
	}
	if !strings.HasSuffix(strings.ToLower(header), ";base64") {
		return int64(len(body))
	}
	body = strings.TrimRight(body, "=")
	return int64(base64.RawStdEncoding.DecodedLen(len(body)))
}

// resourceType guesses how the store will classify the payload. Audio is
// stored as video.
func (p Payload) resourceType() string {
	var mime string
	if len(p.Data) > 0 {
		mime = http.DetectContentType(p.Data)
	} else {
		header, _, _ := strings.Cut(strings.TrimPrefix(p.DataURI, "data:"), ",")
		mime, _, _ = strings.Cut(header, ";")
	}
	switch {
	case strings.HasPrefix(mime, "image/"):
		return ResourceImage
	case strings.HasPrefix(mime, "video/"), strings.HasPrefix(mime, "audio/"):
		return ResourceVideo
	default:
		return ResourceRaw
	}
}

var dataURIHeader = regexp.MustCompile(`^data:[a-zA-Z0-9.+-]+/[a-zA-Z0-9.+-]+(;[a-zA-Z0-9=.+-]+)*,`)

func (p Payload) validate() error {
	if p.Empty() {
		return ErrEmptyPayload
	}
	if len(p.Data) > 0 {
		return nil
	}
	if !dataURIHeader.MatchString(p.DataURI) {
		return ErrInvalidPayload
	}
	if _, body, _ := strings.Cut(p.DataURI, ","); body == "" {
		return ErrEmptyPayload
	}
	return nil
}

var folderPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+(/[A-Za-z0-9_-]+)*$`)

func ValidateFolder(folder string) error {
	if !folderPattern.MatchString(folder) {
		return ErrInvalidFolder
	}
	return nil
}
