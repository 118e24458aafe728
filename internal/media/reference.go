package media

import (
	"context"
	"net/url"
	"regexp"
	"strings"
)

const (
	ResourceImage = "image"
	ResourceVideo = "video"
	ResourceRaw   = "raw"
)

func validResourceType(resourceType string) bool {
	switch resourceType {
	case ResourceImage, ResourceVideo, ResourceRaw:
		return true
	}
	return false
}

// Reference is the durable handle to an uploaded asset.
type Reference struct {
	SecureURL    string
	PublicID     string
	ResourceType string
	Folder       string
	Format       string
	Bytes        int64
}

var (
	versionedPath = regexp.MustCompile(`/v\d+/(.+)\.[^/.]+$`)
	deliveryPath  = regexp.MustCompile(`/(image|video|raw)/[a-z_]+/`)
)

// ExtractPublicID recovers the public id embedded in a store URL of the form
// .../v<digits>/<publicId>.<ext>. The bool is false when the URL does not
// carry that shape; callers must not attempt a delete in that case.
func ExtractPublicID(secureURL string) (string, bool) {
	secureURL = strings.TrimSpace(secureURL)
	if secureURL == "" {
		return "", false
	}
	parsed, err := url.Parse(secureURL)
	if err != nil {
		return "", false
	}
	match := versionedPath.FindStringSubmatch(parsed.Path)
	if match == nil {
		return "", false
	}
	publicID := match[1]
	if strings.HasSuffix(publicID, "/") || strings.HasPrefix(publicID, "/") {
		return "", false
	}
	return publicID, true
}

// ResourceTypeOf reads the resource type from the /<type>/<delivery>/ part of
// a store URL. URLs without one are treated as images.
func ResourceTypeOf(secureURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(secureURL))
	if err != nil {
		return ResourceImage
	}
	match := deliveryPath.FindStringSubmatch(parsed.Path)
	if match == nil {
		return ResourceImage
	}
	return match[1]
}

type Deleter interface {
	DeleteResource(ctx context.Context, resourceType, publicID string) (DeleteResult, error)
}

type DeleteOutcome struct {
	PublicID     string
	ResourceType string
	Deleted      bool
	Skipped      bool
}

// DeleteByURL resolves the public id and resource type from a stored URL and
// deletes it. An unresolvable URL is a skipped no-op, not an error.
func DeleteByURL(ctx context.Context, deleter Deleter, secureURL string) (DeleteOutcome, error) {
	publicID, ok := ExtractPublicID(secureURL)
	if !ok {
		return DeleteOutcome{Skipped: true}, nil
	}
	outcome := DeleteOutcome{PublicID: publicID, ResourceType: ResourceTypeOf(secureURL)}
	result, err := deleter.DeleteResource(ctx, outcome.ResourceType, publicID)
	if err != nil {
		return outcome, err
	}
	outcome.Deleted = result.Deleted
	return outcome, nil
}
