package conversation

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidTurn is returned when a turn violates the role or content rules.
var ErrInvalidTurn = errors.New("invalid turn")

// Role identifies the author of a turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Image is a single raster image attached to a user turn
type Image struct {
	Name      string `json:"name,omitempty"`
	MediaType string `json:"media_type"`
	Data      []byte `json:"data"`
}

// Clone returns a copy of the image that shares no memory with i.
func (i Image) Clone() Image {
	data := make([]byte, len(i.Data))
	copy(data, i.Data)
	return Image{Name: i.Name, MediaType: i.MediaType, Data: data}
}

// Equal reports whether two images carry the same name, type and bytes.
func (i Image) Equal(o Image) bool {
	return i.Name == o.Name && i.MediaType == o.MediaType && bytes.Equal(i.Data, o.Data)
}

// ImageSet is the ordered collection of images attached to one user turn
type ImageSet []Image

// Clone deep-copies the set. A nil set stays nil.
func (s ImageSet) Clone() ImageSet {
	if s == nil {
		return nil
	}
	out := make(ImageSet, len(s))
	for i, img := range s {
		out[i] = img.Clone()
	}
	return out
}

// Turn represents one message of a conversation
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Images    ImageSet  `json:"images,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewUserTurn creates a user turn. Images are optional.
func NewUserTurn(text string, images ...Image) Turn {
	var set ImageSet
	if len(images) > 0 {
		set = ImageSet(images).Clone()
	}
	return Turn{
		Role:      RoleUser,
		Text:      text,
		Images:    set,
		CreatedAt: time.Now().UTC(),
	}
}

// NewAssistantTurn creates an assistant turn
func NewAssistantTurn(text string) Turn {
	return Turn{
		Role:      RoleAssistant,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
}

// HasImages reports whether the turn carries an ImageSet
func (t Turn) HasImages() bool {
	return len(t.Images) > 0
}

// Validate checks the role and content rules of a turn
func (t Turn) Validate() error {
	if !t.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidTurn, t.Role)
	}
	if strings.TrimSpace(t.Text) == "" {
		return fmt.Errorf("%w: %s turn has empty text", ErrInvalidTurn, t.Role)
	}
	if t.Role == RoleAssistant && t.HasImages() {
		return fmt.Errorf("%w: assistant turn cannot carry images", ErrInvalidTurn)
	}
	for i, img := range t.Images {
		if len(img.Data) == 0 {
			return fmt.Errorf("%w: image %d is empty", ErrInvalidTurn, i)
		}
		if img.MediaType == "" {
			return fmt.Errorf("%w: image %d has no media type", ErrInvalidTurn, i)
		}
	}
	return nil
}

// Clone returns a deep copy of the turn
func (t Turn) Clone() Turn {
	t.Images = t.Images.Clone()
	return t
}

// SameContent reports whether two turns have the same role, text and images.
// Timestamps are ignored.
func (t Turn) SameContent(o Turn) bool {
	if t.Role != o.Role || t.Text != o.Text || len(t.Images) != len(o.Images) {
		return false
	}
	for i := range t.Images {
		if !t.Images[i].Equal(o.Images[i]) {
			return false
		}
	}
	return true
}
