package models

import (
	"encoding/json"
	"net/url"
	"path"
	"strings"
)

type BlockKind string

const (
	BlockText     BlockKind = "text"
	BlockLink     BlockKind = "link"
	BlockImage    BlockKind = "image"
	BlockAudio    BlockKind = "audio"
	BlockVideo    BlockKind = "video"
	BlockDocument BlockKind = "document"
	BlockList     BlockKind = "list"
	BlockPoll     BlockKind = "poll"
	BlockUnknown  BlockKind = "unknown"
)

func (k BlockKind) IsMedia() bool {
	switch k {
	case BlockImage, BlockAudio, BlockVideo, BlockDocument:
		return true
	}
	return false
}

// Block is one ordered message unit, decoded from the loose authored
// document into exactly one tagged variant. The raw document is kept so
// a stored payload round-trips unchanged.
type Block struct {
	Kind     BlockKind
	RawKind  string
	ItemWait *int

	Text  *TextData
	Link  *LinkData
	Media *MediaData
	List  *ListData
	Poll  *PollData

	raw json.RawMessage
}

type TextData struct {
	Text        string
	LinkPreview bool
}

type LinkData struct {
	Title       string
	URL         string
	Description string
}

type MediaData struct {
	URL      string
	MimeType string
	FileName string
	Caption  string
}

type ListData struct {
	Title       string
	Description string
	ButtonText  string
	FooterText  string
	Sections    []ListSection
}

type ListSection struct {
	Title string
	Rows  []ListRow
}

type ListRow struct {
	RowID       string
	Title       string
	Description string
}

type PollData struct {
	Name       string
	Options    []string
	Multi      bool
	Selectable int
	HasSelect  bool
}

type wireBlock struct {
	Type     string         `json:"type"`
	Action   string         `json:"action"`
	Data     map[string]any `json:"data"`
	ItemWait *int           `json:"itemWait"`
}

func (b *Block) UnmarshalJSON(data []byte) error {
	var w wireBlock
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Data == nil {
		w.Data = map[string]any{}
	}

	rawKind := w.Action
	if strings.TrimSpace(rawKind) == "" {
		rawKind = w.Type
	}

	b.raw = append(json.RawMessage(nil), data...)
	b.RawKind = strings.TrimSpace(rawKind)
	b.ItemWait = w.ItemWait
	b.Kind = classifyBlock(b.RawKind, w.Data)

	switch b.Kind {
	case BlockText:
		b.Text = decodeText(w.Data)
	case BlockLink:
		b.Link = decodeLink(w.Data)
	case BlockImage, BlockAudio, BlockVideo, BlockDocument:
		b.Media = decodeMedia(w.Data)
	case BlockList:
		b.List = decodeList(w.Data)
	case BlockPoll:
		b.Poll = decodePoll(w.Data)
	}
	return nil
}

func (b Block) MarshalJSON() ([]byte, error) {
	if len(b.raw) > 0 {
		return b.raw, nil
	}
	return []byte("{}"), nil
}

var blockKinds = map[string]BlockKind{
	"text": BlockText, "texto": BlockText, "message": BlockText,
	"msg": BlockText, "sendtext": BlockText,

	"link": BlockLink, "url": BlockLink, "sendlink": BlockLink,

	"image": BlockImage, "img": BlockImage, "photo": BlockImage,
	"foto": BlockImage, "picture": BlockImage, "sendimage": BlockImage,

	"audio": BlockAudio, "voice": BlockAudio, "ptt": BlockAudio,
	"sendaudio": BlockAudio,

	"video": BlockVideo, "sendvideo": BlockVideo,

	"document": BlockDocument, "doc": BlockDocument, "file": BlockDocument,
	"arquivo": BlockDocument, "senddocument": BlockDocument, "sendfile": BlockDocument,
	"sendmedia": BlockDocument,

	"list": BlockList, "lista": BlockList, "menu": BlockList,
	"sendlist": BlockList, "sendoptions": BlockList,

	"poll": BlockPoll, "enquete": BlockPoll, "survey": BlockPoll,
	"sendpoll": BlockPoll,
}

// classifyBlock maps the authored type/action string onto a variant.
// An absent kind means plain text unless the data carries a media URL;
// an explicit kind nobody recognizes stays unknown so the builder can
// fall back to its literal notice.
func classifyBlock(rawKind string, data map[string]any) BlockKind {
	norm := strings.ToLower(strings.TrimSpace(rawKind))
	norm = strings.NewReplacer("-", "", "_", "", " ", "").Replace(norm)

	if norm == "" {
		if u := mediaURL(data); u != "" {
			return mediaKindForURL(u)
		}
		return BlockText
	}
	if k, ok := blockKinds[norm]; ok {
		if k == BlockDocument && norm == "sendmedia" {
			// generic media action: pick the kind from the file itself
			if u := mediaURL(data); u != "" {
				return mediaKindForURL(u)
			}
		}
		return k
	}
	return BlockUnknown
}

func mediaURL(data map[string]any) string {
	u := stringField(data, "url", "mediaUrl", "media", "fileUrl", "src")
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	return ""
}

func mediaKindForURL(raw string) BlockKind {
	ext := ""
	if u, err := url.Parse(raw); err == nil {
		ext = strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
	}
	switch ext {
	case "jpg", "jpeg", "png", "gif", "webp":
		return BlockImage
	case "mp3", "ogg", "opus", "m4a", "aac", "wav":
		return BlockAudio
	case "mp4", "3gp", "mov", "avi", "mkv":
		return BlockVideo
	default:
		return BlockDocument
	}
}

func decodeText(data map[string]any) *TextData {
	preview := true
	if v, ok := boolField(data, "linkPreview", "preview", "previewLink"); ok {
		preview = v
	}
	return &TextData{
		Text:        stringField(data, "text", "message", "content", "body", "msg"),
		LinkPreview: preview,
	}
}

func decodeLink(data map[string]any) *LinkData {
	return &LinkData{
		Title:       stringField(data, "title", "titulo"),
		URL:         stringField(data, "url", "link"),
		Description: stringField(data, "description", "descricao", "desc", "text"),
	}
}

func decodeMedia(data map[string]any) *MediaData {
	return &MediaData{
		URL:      stringField(data, "url", "mediaUrl", "media", "fileUrl", "src"),
		MimeType: stringField(data, "mimetype", "mimeType", "mime"),
		FileName: stringField(data, "fileName", "filename", "name"),
		Caption:  stringField(data, "caption", "legenda", "text"),
	}
}

func decodeList(data map[string]any) *ListData {
	out := &ListData{
		Title:       stringField(data, "title", "header"),
		Description: stringField(data, "description", "text", "body"),
		ButtonText:  stringField(data, "buttonText", "button", "buttonLabel"),
		FooterText:  stringField(data, "footerText", "footer"),
	}

	for _, raw := range sliceField(data, "sections", "secoes") {
		sec, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		section := ListSection{Title: stringField(sec, "title", "titulo")}
		for _, r := range sliceField(sec, "rows", "options", "items") {
			if row, ok := decodeListRow(r); ok {
				section.Rows = append(section.Rows, row)
			}
		}
		out.Sections = append(out.Sections, section)
	}
	if len(out.Sections) > 0 {
		return out
	}

	// Flat option lists are wrapped into one synthetic section.
	var rows []ListRow
	for _, r := range sliceField(data, "options", "items", "rows", "choices", "buttons") {
		if row, ok := decodeListRow(r); ok {
			rows = append(rows, row)
		}
	}
	if len(rows) > 0 {
		out.Sections = []ListSection{{Title: out.Title, Rows: rows}}
	}
	return out
}

func decodeListRow(v any) (ListRow, bool) {
	switch r := v.(type) {
	case string:
		if strings.TrimSpace(r) == "" {
			return ListRow{}, false
		}
		return ListRow{Title: strings.TrimSpace(r)}, true
	case map[string]any:
		row := ListRow{
			RowID:       stringField(r, "rowId", "id", "value"),
			Title:       stringField(r, "title", "text", "name", "label"),
			Description: stringField(r, "description", "desc"),
		}
		if row.Title == "" {
			return ListRow{}, false
		}
		return row, true
	default:
		return ListRow{}, false
	}
}

func decodePoll(data map[string]any) *PollData {
	out := &PollData{
		Name: stringField(data, "name", "question", "title", "text"),
	}
	for _, v := range sliceField(data, "values", "options", "choices", "answers", "items") {
		switch o := v.(type) {
		case string:
			out.Options = append(out.Options, strings.TrimSpace(o))
		case map[string]any:
			if s := stringField(o, "title", "text", "name", "value", "label"); s != "" {
				out.Options = append(out.Options, s)
			}
		}
	}
	if n, ok := intField(data, "selectableCount", "selectable", "maxSelections", "maxChoices", "count"); ok {
		out.Selectable = n
		out.HasSelect = true
	}
	if multi, ok := boolField(data, "multiSelect", "multiple", "allowMultiple"); ok {
		out.Multi = multi
	}
	return out
}
