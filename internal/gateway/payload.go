package gateway

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/psouza/broadcastd/internal/models"
)

// Gateway action names issued by the builder. List and poll sends have
// known synonyms on some gateway builds; the client tries those at
// dispatch time.
const (
	ActionSendText  = "sendText"
	ActionSendMedia = "sendMedia"
	ActionSendList  = "sendList"
	ActionSendPoll  = "sendPoll"
)

const (
	maxListRows    = 10
	maxPollOptions = 12
)

// Builder turns one block plus a recipient address into a gateway action
// and request body. Build errors surface as per-block delivery failures,
// never as job failures.
type Builder struct {
	log zerolog.Logger
}

func NewBuilder(log zerolog.Logger) *Builder {
	return &Builder{log: log}
}

func (b *Builder) Build(block models.Block, number, contactName string) (string, map[string]interface{}, error) {
	switch block.Kind {
	case models.BlockText:
		return buildText(block.Text, number)
	case models.BlockLink:
		return buildLink(block.Link, number)
	case models.BlockImage, models.BlockAudio, models.BlockVideo, models.BlockDocument:
		return buildMedia(block.Kind, block.Media, number)
	case models.BlockList:
		return buildList(block.List, number)
	case models.BlockPoll:
		return buildPoll(block.Poll, number)
	default:
		// Unknown kinds become a literal notice so the campaign keeps
		// moving; the oddity is still visible in the worker log.
		b.log.Warn().Str("kind", block.RawKind).Msg("unsupported block type, sending literal notice")
		return ActionSendText, map[string]interface{}{
			"number":      number,
			"text":        fmt.Sprintf("[unsupported message type: %s]", block.RawKind),
			"linkPreview": false,
		}, nil
	}
}

func buildText(data *models.TextData, number string) (string, map[string]interface{}, error) {
	text := ""
	preview := true
	if data != nil {
		text = data.Text
		preview = data.LinkPreview
	}
	return ActionSendText, map[string]interface{}{
		"number":      number,
		"text":        text,
		"linkPreview": preview,
	}, nil
}

func buildLink(data *models.LinkData, number string) (string, map[string]interface{}, error) {
	if data == nil || data.URL == "" {
		return "", nil, fmt.Errorf("link block has no url")
	}
	parts := make([]string, 0, 3)
	if data.Title != "" {
		parts = append(parts, data.Title)
	}
	parts = append(parts, data.URL)
	if data.Description != "" {
		parts = append(parts, data.Description)
	}
	return ActionSendText, map[string]interface{}{
		"number":      number,
		"text":        strings.Join(parts, "\n"),
		"linkPreview": true,
	}, nil
}

func buildMedia(kind models.BlockKind, data *models.MediaData, number string) (string, map[string]interface{}, error) {
	if data == nil || data.URL == "" {
		return "", nil, fmt.Errorf("%s block has no media url", kind)
	}
	if !strings.HasPrefix(data.URL, "http://") && !strings.HasPrefix(data.URL, "https://") {
		return "", nil, fmt.Errorf("%s block url %q is not an http(s) address", kind, data.URL)
	}

	mime := data.MimeType
	if mime == "" {
		mime = mimeForURL(data.URL)
	}
	fileName := data.FileName
	if fileName == "" {
		fileName = fileNameFromURL(data.URL)
	}
	presence := "composing"
	if kind == models.BlockAudio {
		presence = "recording"
	}

	return ActionSendMedia, map[string]interface{}{
		"number":    number,
		"mediatype": string(kind),
		"mediaUrl":  data.URL,
		"mimetype":  mime,
		"fileName":  fileName,
		"caption":   data.Caption,
		"presence":  presence,
	}, nil
}

func buildList(data *models.ListData, number string) (string, map[string]interface{}, error) {
	if data == nil || len(data.Sections) == 0 {
		return "", nil, fmt.Errorf("list block has no rows")
	}

	buttonText := data.ButtonText
	if buttonText == "" {
		buttonText = "Open"
	}

	total := 0
	sections := make([]interface{}, 0, len(data.Sections))
	for _, sec := range data.Sections {
		if total >= maxListRows {
			break
		}
		rows := make([]interface{}, 0, len(sec.Rows))
		for i, row := range sec.Rows {
			if total >= maxListRows {
				break
			}
			rowID := row.RowID
			if rowID == "" {
				rowID = fmt.Sprintf("row_%d_%d", len(sections)+1, i+1)
			}
			r := map[string]interface{}{
				"rowId": rowID,
				"title": row.Title,
			}
			if row.Description != "" {
				r["description"] = row.Description
			}
			rows = append(rows, r)
			total++
		}
		if len(rows) == 0 {
			continue
		}
		sections = append(sections, map[string]interface{}{
			"title": sec.Title,
			"rows":  rows,
		})
	}
	if total == 0 {
		return "", nil, fmt.Errorf("list block has no rows")
	}

	return ActionSendList, map[string]interface{}{
		"number":      number,
		"title":       data.Title,
		"description": data.Description,
		"buttonText":  buttonText,
		"footerText":  data.FooterText,
		"sections":    sections,
	}, nil
}

func buildPoll(data *models.PollData, number string) (string, map[string]interface{}, error) {
	if data == nil {
		return "", nil, fmt.Errorf("poll block has no options")
	}

	seen := make(map[string]bool, len(data.Options))
	options := make([]interface{}, 0, len(data.Options))
	for _, opt := range data.Options {
		opt = strings.TrimSpace(opt)
		if opt == "" || seen[opt] {
			continue
		}
		seen[opt] = true
		options = append(options, opt)
		if len(options) == maxPollOptions {
			break
		}
	}
	if len(options) < 2 {
		return "", nil, fmt.Errorf("poll block needs at least 2 distinct options, got %d", len(options))
	}

	selectable := 1
	switch {
	case data.HasSelect:
		selectable = data.Selectable
	case data.Multi:
		selectable = len(options)
	}
	if selectable < 1 {
		selectable = 1
	}
	if selectable > len(options) {
		selectable = len(options)
	}

	return ActionSendPoll, map[string]interface{}{
		"number":          number,
		"name":            data.Name,
		"selectableCount": selectable,
		"values":          options,
	}, nil
}

var mimeByExt = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"mp3":  "audio/mpeg",
	"ogg":  "audio/ogg",
	"opus": "audio/ogg",
	"m4a":  "audio/mp4",
	"aac":  "audio/aac",
	"wav":  "audio/wav",
	"mp4":  "video/mp4",
	"3gp":  "video/3gpp",
	"mov":  "video/quicktime",
	"avi":  "video/x-msvideo",
	"mkv":  "video/x-matroska",
	"pdf":  "application/pdf",
	"txt":  "text/plain",
	"csv":  "text/csv",
	"zip":  "application/zip",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xls":  "application/vnd.ms-excel",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"ppt":  "application/vnd.ms-powerpoint",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
}

func mimeForURL(raw string) string {
	if m, ok := mimeByExt[extFromURL(raw)]; ok {
		return m
	}
	return "application/octet-stream"
}

func fileNameFromURL(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		if name := path.Base(u.Path); name != "." && name != "/" && name != "" {
			return name
		}
	}
	return "file"
}

func extFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
}
