package tools

import (
	"context"
	"fmt"
)

// --- check_if_record_exists_in_db ---

type CheckRecordExistsTool struct {
	Store RecordStore
}

func NewCheckRecordExistsTool(s RecordStore) *CheckRecordExistsTool { return &CheckRecordExistsTool{Store: s} }

func (t *CheckRecordExistsTool) Name() string       { return "check_if_record_exists_in_db" }
func (t *CheckRecordExistsTool) Description() string { return "Check whether a player already has a registration record" }
func (t *CheckRecordExistsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"parent_name": map[string]interface{}{"type": "string"},
			"child_name":  map[string]interface{}{"type": "string"},
		},
		"required": []string{"parent_name", "child_name"},
	}
}

func (t *CheckRecordExistsTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	parent, _ := args["parent_name"].(string)
	child, _ := args["child_name"].(string)

	found, recordID, playedLastSeason, team, ageGroup, err := t.Store.CheckExists(ctx, parent, child)
	if err != nil {
		return Fail("db_unavailable", "registration database is unavailable").WithError(err)
	}
	if !found {
		return OK("found=false", map[string]interface{}{"found": false})
	}

	data := map[string]interface{}{
		"found":              true,
		"record_id":          recordID,
		"played_last_season": playedLastSeason,
	}
	if playedLastSeason {
		kitNeeded, kerr := t.Store.CheckKitNeeded(ctx, team, ageGroup)
		if kerr == nil {
			data["kit_needed"] = kitNeeded
		}
	}
	return OK(fmt.Sprintf("found=true record_id=%s played_last_season=%v", recordID, playedLastSeason), data)
}

// --- check_if_kit_needed ---

type CheckKitNeededTool struct {
	Store RecordStore
}

func NewCheckKitNeededTool(s RecordStore) *CheckKitNeededTool { return &CheckKitNeededTool{Store: s} }

func (t *CheckKitNeededTool) Name() string       { return "check_if_kit_needed" }
func (t *CheckKitNeededTool) Description() string { return "Check whether a returning player needs new kit" }
func (t *CheckKitNeededTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"team":      map[string]interface{}{"type": "string"},
			"age_group": map[string]interface{}{"type": "string"},
		},
		"required": []string{"team", "age_group"},
	}
}

func (t *CheckKitNeededTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	team, _ := args["team"].(string)
	age, _ := args["age_group"].(string)

	kitNeeded, err := t.Store.CheckKitNeeded(ctx, team, age)
	if err != nil {
		return Fail("db_unavailable", "registration database is unavailable").WithError(err)
	}
	return OK(fmt.Sprintf("kit_needed=%v", kitNeeded), map[string]interface{}{"kit_needed": kitNeeded})
}

// --- check_shirt_number_availability ---

type CheckShirtNumberTool struct {
	Store RecordStore
}

func NewCheckShirtNumberTool(s RecordStore) *CheckShirtNumberTool { return &CheckShirtNumberTool{Store: s} }

func (t *CheckShirtNumberTool) Name() string       { return "check_shirt_number_availability" }
func (t *CheckShirtNumberTool) Description() string { return "Check whether a shirt number is available for a team/age group" }
func (t *CheckShirtNumberTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"team":      map[string]interface{}{"type": "string"},
			"age_group": map[string]interface{}{"type": "string"},
			"number":    map[string]interface{}{"type": "integer"},
		},
		"required": []string{"team", "age_group", "number"},
	}
}

func (t *CheckShirtNumberTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	team, _ := args["team"].(string)
	age, _ := args["age_group"].(string)
	number := intArg(args["number"])

	if number < 1 || number > 25 {
		return Fail("out_of_range", "shirt number must be between 1 and 25")
	}

	available, conflicts, err := t.Store.ShirtNumberAvailable(ctx, team, age, number)
	if err != nil {
		return Fail("db_unavailable", "registration database is unavailable").WithError(err)
	}
	return OK(fmt.Sprintf("available=%v conflicts=%d", available, conflicts), map[string]interface{}{
		"available": available,
		"conflicts": conflicts,
	})
}

func intArg(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// --- update_reg_details_to_db ---

type UpdateRegDetailsTool struct {
	Store RecordStore
}

func NewUpdateRegDetailsTool(s RecordStore) *UpdateRegDetailsTool { return &UpdateRegDetailsTool{Store: s} }

func (t *UpdateRegDetailsTool) Name() string       { return "update_reg_details_to_db" }
func (t *UpdateRegDetailsTool) Description() string { return "Create or update the registration record with the collected data" }
func (t *UpdateRegDetailsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"record_id":     map[string]interface{}{"type": "string"},
			"parent_name":   map[string]interface{}{"type": "string"},
			"child_name":    map[string]interface{}{"type": "string"},
			"dob":           map[string]interface{}{"type": "string"},
			"age_group":     map[string]interface{}{"type": "string"},
			"gender":        map[string]interface{}{"type": "string"},
			"medical":       map[string]interface{}{"type": "string"},
			"previous_team": map[string]interface{}{"type": "string"},
			"relationship":  map[string]interface{}{"type": "string"},
			"mobile":        map[string]interface{}{"type": "string"},
			"email":         map[string]interface{}{"type": "string"},
			"comms_consent": map[string]interface{}{"type": "boolean"},
			"parent_dob":    map[string]interface{}{"type": "string"},
			"team":          map[string]interface{}{"type": "string"},
			"season":        map[string]interface{}{"type": "string"},
			"player_phone":  map[string]interface{}{"type": "string"},
			"player_email":  map[string]interface{}{"type": "string"},
		},
		"required": []string{"parent_name", "child_name", "dob", "age_group", "team", "season"},
	}
}

func (t *UpdateRegDetailsTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	payload := RegistrationPayload{
		RecordID:     strArg(args["record_id"]),
		ParentName:   strArg(args["parent_name"]),
		ChildName:    strArg(args["child_name"]),
		DOB:          strArg(args["dob"]),
		AgeGroup:     strArg(args["age_group"]),
		Gender:       strArg(args["gender"]),
		Medical:      strArg(args["medical"]),
		PreviousTeam: strArg(args["previous_team"]),
		Relationship: strArg(args["relationship"]),
		Mobile:       strArg(args["mobile"]),
		Email:        strArg(args["email"]),
		CommsConsent: boolArg(args["comms_consent"]),
		ParentDOB:    strArg(args["parent_dob"]),
		Team:         strArg(args["team"]),
		Season:       strArg(args["season"]),
		PlayerPhone:  strArg(args["player_phone"]),
		PlayerEmail:  strArg(args["player_email"]),
	}

	if payload.ParentName == "" || payload.ChildName == "" {
		return Fail("validation_failed", "parent and child name are required")
	}

	recordID, action, err := t.Store.UpsertRegistration(ctx, payload)
	if err != nil {
		return Fail("db_unavailable", "registration database is unavailable").WithError(err)
	}
	return OK(fmt.Sprintf("record_id=%s action=%s", recordID, action), map[string]interface{}{
		"record_id": recordID,
		"action":    action,
	})
}

func strArg(v interface{}) string {
	s, _ := v.(string)
	return s
}

func boolArg(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

// --- update_kit_details_to_db ---

type UpdateKitDetailsTool struct {
	Store RecordStore
}

func NewUpdateKitDetailsTool(s RecordStore) *UpdateKitDetailsTool { return &UpdateKitDetailsTool{Store: s} }

func (t *UpdateKitDetailsTool) Name() string       { return "update_kit_details_to_db" }
func (t *UpdateKitDetailsTool) Description() string { return "Record the player's kit size, shirt number, and kit type" }
func (t *UpdateKitDetailsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"record_id": map[string]interface{}{"type": "string"},
			"size":      map[string]interface{}{"type": "string"},
			"number":    map[string]interface{}{"type": "integer"},
			"kit_type":  map[string]interface{}{"type": "string"},
		},
		"required": []string{"record_id", "size", "number", "kit_type"},
	}
}

func (t *UpdateKitDetailsTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	recordID := strArg(args["record_id"])
	size := strArg(args["size"])
	number := intArg(args["number"])
	kitType := strArg(args["kit_type"])

	if err := t.Store.UpdateKitDetails(ctx, recordID, size, number, kitType); err != nil {
		return Fail("db_unavailable", "registration database is unavailable").WithError(err)
	}
	return OK("updated=true", map[string]interface{}{"updated": true})
}

// --- update_photo_link_to_db ---

type UpdatePhotoLinkTool struct {
	Store RecordStore
}

func NewUpdatePhotoLinkTool(s RecordStore) *UpdatePhotoLinkTool { return &UpdatePhotoLinkTool{Store: s} }

func (t *UpdatePhotoLinkTool) Name() string       { return "update_photo_link_to_db" }
func (t *UpdatePhotoLinkTool) Description() string { return "Attach the uploaded photo URL to a registration record" }
func (t *UpdatePhotoLinkTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"record_id": map[string]interface{}{"type": "string"},
			"url":       map[string]interface{}{"type": "string"},
			"snapshot":  map[string]interface{}{"type": "string"},
		},
		"required": []string{"record_id", "url"},
	}
}

func (t *UpdatePhotoLinkTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	recordID := strArg(args["record_id"])
	url := strArg(args["url"])
	snapshot := strArg(args["snapshot"])

	if recordID == "" {
		return Fail("record_missing", "no record id supplied")
	}

	if err := t.Store.UpdatePhotoLink(ctx, recordID, url, snapshot); err != nil {
		return Fail("db_unavailable", "registration database is unavailable").WithError(err)
	}
	return OK("updated=true", map[string]interface{}{"updated": true})
}
