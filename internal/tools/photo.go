package tools

import (
	"context"
	"fmt"
)

// --- upload_photo_to_s3 ---

type UploadPhotoTool struct {
	Processor PhotoProcessor
}

func NewUploadPhotoTool(p PhotoProcessor) *UploadPhotoTool { return &UploadPhotoTool{Processor: p} }

func (t *UploadPhotoTool) Name() string       { return "upload_photo_to_s3" }
func (t *UploadPhotoTool) Description() string { return "Process and upload the player's registration photo" }
func (t *UploadPhotoTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"temp_path":   map[string]interface{}{"type": "string"},
			"player_name": map[string]interface{}{"type": "string"},
			"team":        map[string]interface{}{"type": "string"},
			"age_group":   map[string]interface{}{"type": "string"},
			"record_id":   map[string]interface{}{"type": "string"},
		},
		"required": []string{"temp_path", "player_name", "team", "age_group", "record_id"},
	}
}

func (t *UploadPhotoTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	tempPath := strArg(args["temp_path"])
	playerName := strArg(args["player_name"])
	team := strArg(args["team"])
	ageGroup := strArg(args["age_group"])
	recordID := strArg(args["record_id"])

	url, key, err := t.Processor.Process(ctx, tempPath, playerName, team, ageGroup, recordID)
	if err != nil {
		return Fail(classifyPhotoErr(err), "could not process and upload that photo").WithError(err)
	}
	return OK(fmt.Sprintf("url=%s key=%s", url, key), map[string]interface{}{"url": url, "key": key})
}

// classifyPhotoErr maps the photo pipeline's prefixed errors onto the
// tool failure kinds the dispatcher's routing logic expects.
func classifyPhotoErr(err error) string {
	msg := err.Error()
	switch {
	case len(msg) >= len("unsupported_format") && msg[:len("unsupported_format")] == "unsupported_format":
		return "unsupported_format"
	case len(msg) >= len("conversion_failed") && msg[:len("conversion_failed")] == "conversion_failed":
		return "conversion_failed"
	default:
		return "store_unavailable"
	}
}
