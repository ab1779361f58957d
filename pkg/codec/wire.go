package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// TimeFormat is the service's timestamp layout.
const TimeFormat = "2006-01-02T15:04:05.000000Z"

const (
	kindNode        = "notes#node"
	kindTimestamps  = "notes#timestamps"
	kindSettings    = "notes#nodeSettings"
	kindAnnotations = "notes#annotationsGroup"
	kindBlob        = "notes#blob"
)

// wireTime encodes zero as the epoch, which the service reads as "unset".
type wireTime time.Time

func (t wireTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(FormatTime(time.Time(t)))
}

func (t *wireTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseTime(s)
	if err != nil {
		return err
	}
	*t = wireTime(v)
	return nil
}

// FormatTime renders t in TimeFormat. The zero time renders as the epoch.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Unix(0, 0)
	}
	return t.UTC().Format(TimeFormat)
}

// ParseTime accepts any RFC 3339 precision. The epoch parses as the zero time.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	if t.Unix() == 0 && t.Nanosecond() == 0 {
		return time.Time{}, nil
	}
	return t.UTC(), nil
}

// flexInt accepts both JSON numbers and numeric strings.
type flexInt int64

func (n flexInt) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(n), 10)), nil
}

func (n *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("integer %q: %w", b, err)
	}
	*n = flexInt(v)
	return nil
}

type wireNode struct {
	Kind             string           `json:"kind"`
	ID               string           `json:"id"`
	ServerID         string           `json:"serverId,omitempty"`
	ParentID         string           `json:"parentId,omitempty"`
	ParentServerID   string           `json:"parentServerId,omitempty"`
	Type             string           `json:"type"`
	BaseVersion      *flexInt         `json:"baseVersion,omitempty"`
	SortValue        flexInt          `json:"sortValue"`
	Text             string           `json:"text"`
	Timestamps       *wireTimestamps  `json:"timestamps,omitempty"`
	NodeSettings     *wireSettings    `json:"nodeSettings,omitempty"`
	AnnotationsGroup *wireAnnotations `json:"annotationsGroup,omitempty"`

	Color         *string        `json:"color,omitempty"`
	IsArchived    *bool          `json:"isArchived,omitempty"`
	IsPinned      *bool          `json:"isPinned,omitempty"`
	Title         *string        `json:"title,omitempty"`
	LabelIDs      []wireLabelRef `json:"labelIds,omitempty"`
	RoleInfo      []wireRole     `json:"roleInfo,omitempty"`
	ShareRequests []wireShare    `json:"shareRequests,omitempty"`

	Checked         *bool   `json:"checked,omitempty"`
	SuperListItemID *string `json:"superListItemId,omitempty"`

	Blob *wireBlob `json:"blob,omitempty"`
}

type wireTimestamps struct {
	Kind       string    `json:"kind"`
	Created    wireTime  `json:"created"`
	Updated    wireTime  `json:"updated"`
	UserEdited *wireTime `json:"userEdited,omitempty"`
	Trashed    *wireTime `json:"trashed,omitempty"`
	Deleted    *wireTime `json:"deleted,omitempty"`
}

type wireSettings struct {
	Kind                   string `json:"kind,omitempty"`
	NewListItemPlacement   string `json:"newListItemPlacement"`
	GraveyardState         string `json:"graveyardState"`
	CheckedListItemsPolicy string `json:"checkedListItemsPolicy"`
}

type wireAnnotations struct {
	Kind        string            `json:"kind"`
	Annotations []json.RawMessage `json:"annotations,omitempty"`
}

type wireAnnotation struct {
	ID            string          `json:"id,omitempty"`
	WebLink       *wireWebLink    `json:"webLink,omitempty"`
	TopicCategory *wireCategory   `json:"topicCategory,omitempty"`
	TaskAssist    *wireTaskAssist `json:"taskAssist,omitempty"`
}

type wireWebLink struct {
	Title         string `json:"title,omitempty"`
	URL           string `json:"url"`
	ImageURL      string `json:"imageUrl,omitempty"`
	ProvenanceURL string `json:"provenanceUrl"`
	Description   string `json:"description,omitempty"`
}

type wireCategory struct {
	Category string `json:"category"`
}

type wireTaskAssist struct {
	SuggestType string `json:"suggestType"`
}

type wireLabelRef struct {
	LabelID string   `json:"labelId"`
	Deleted wireTime `json:"deleted"`
}

type wireRole struct {
	Email         string `json:"email"`
	Role          string `json:"role"`
	AuxiliaryType string `json:"auxiliary_type,omitempty"`
}

type wireShare struct {
	Email string `json:"email"`
	Type  string `json:"type"`
}

type wireBlob struct {
	Kind          string       `json:"kind"`
	Type          string       `json:"type"`
	BlobID        string       `json:"blob_id,omitempty"`
	MediaID       string       `json:"media_id,omitempty"`
	Mimetype      string       `json:"mimetype,omitempty"`
	Length        int64        `json:"length,omitempty"`
	Width         int          `json:"width,omitempty"`
	Height        int          `json:"height,omitempty"`
	ByteSize      int64        `json:"byte_size,omitempty"`
	ExtractedText string       `json:"extracted_text,omitempty"`
	DrawingInfo   *wireDrawing `json:"drawingInfo,omitempty"`
}

type wireDrawing struct {
	DrawingID string `json:"drawingId"`
}

type wireLabel struct {
	MainID     string          `json:"mainId"`
	ServerID   string          `json:"serverId,omitempty"`
	Name       string          `json:"name"`
	Timestamps *wireTimestamps `json:"timestamps"`
	LastMerged wireTime        `json:"lastMerged"`
}

func toTime(t wireTime) time.Time { return time.Time(t) }

func optTime(t *wireTime) time.Time {
	if t == nil {
		return time.Time{}
	}
	return time.Time(*t)
}

func ptr[T any](v T) *T { return &v }
