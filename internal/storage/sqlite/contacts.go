package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/contactsdb/internal/engineerr"
	"github.com/steveyegge/contactsdb/internal/schema"
	"github.com/steveyegge/contactsdb/internal/storage"
	"github.com/steveyegge/contactsdb/internal/types"
)

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func stringField(d types.Detail, name string) string {
	v, _ := d.Fields[name].(string)
	return v
}

func intField(d types.Detail, name string) int {
	switch v := d.Fields[name].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func boolField(d types.Detail, name string) bool {
	v, _ := d.Fields[name].(bool)
	return v
}

func dateField(d types.Detail, name string) time.Time {
	switch v := d.Fields[name].(type) {
	case time.Time:
		return v
	case string:
		return parseTime(v)
	default:
		return time.Time{}
	}
}

func stringListField(d types.Detail, name string) []string {
	switch v := d.Fields[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func encodeStringList(ss []string) string {
	b, _ := json.Marshal(ss)
	return string(b)
}

func decodeStringList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

// primaryRow holds every column of the Contacts table, assembled from both
// the Contact struct's first-class fields and the "primary"-table detail
// types (spec.md §4.A).
type primaryRow struct {
	syncTarget, firstName, lastName, middleName, namePrefix, nameSuffix string
	gender                                                              string
	isFavorite                                                          bool
	created, modified                                                   time.Time
	guid, contactType, displayLabel, displayLabelGroup                  string
	globalPresenceState                                                 int
	globalPresenceNickname                                              string
	originGroupID, originID                                            string
	originEnabled                                                       bool
	isDeactivated, isIncidental                                        bool
	incidentalAggregateID                                              sql.NullInt64
	hasPhoneNumber, hasEmailAddress, hasOnlineAccount, isOnline        bool
}

func extractPrimaryRow(c *types.Contact) primaryRow {
	r := primaryRow{
		syncTarget:           string(c.SyncTarget),
		created:              c.Created,
		modified:             c.Modified,
		isDeactivated:        c.IsDeactivated,
		isIncidental:         c.IsIncidental,
		hasPhoneNumber:       c.HasPhoneNumber,
		hasEmailAddress:      c.HasEmailAddress,
		hasOnlineAccount:     c.HasOnlineAccount,
		isOnline:             c.IsOnline,
		globalPresenceState:  int(types.PresenceUnknown),
	}
	if n, ok := c.FirstDetailOfType(types.DetailName); ok {
		r.firstName = stringField(n, "FirstName")
		r.lastName = stringField(n, "LastName")
		r.middleName = stringField(n, "MiddleName")
		r.namePrefix = stringField(n, "Prefix")
		r.nameSuffix = stringField(n, "Suffix")
	}
	if g, ok := c.FirstDetailOfType(types.DetailGender); ok {
		r.gender = stringField(g, "Gender")
	}
	if f, ok := c.FirstDetailOfType(types.DetailFavorite); ok {
		r.isFavorite = boolField(f, "IsFavorite")
	}
	if gu, ok := c.FirstDetailOfType(types.DetailGuid); ok {
		r.guid = stringField(gu, "Guid")
	}
	if ct, ok := c.FirstDetailOfType(types.DetailType_); ok {
		r.contactType = stringField(ct, "Type")
	}
	if dl, ok := c.FirstDetailOfType(types.DetailDisplayLabel); ok {
		r.displayLabel = stringField(dl, "Label")
	}
	if gp, ok := c.FirstDetailOfType(types.DetailGlobalPresence); ok {
		r.globalPresenceState = intField(gp, "PresenceState")
		r.globalPresenceNickname = stringField(gp, "Nickname")
	}
	if om, ok := c.FirstDetailOfType(types.DetailOriginMetadata); ok {
		r.originGroupID = stringField(om, "GroupId")
		r.originID = stringField(om, "Id")
		r.originEnabled = boolField(om, "Enabled")
	} else {
		r.originEnabled = true
	}
	if inc, ok := c.FirstDetailOfType(types.DetailIncidental); ok {
		r.isIncidental = true
		r.incidentalAggregateID = sql.NullInt64{Int64: int64(intField(inc, "AggregateId")), Valid: true}
	}
	r.displayLabelGroup = displayLabelGroup(r.displayLabel)
	return r
}

// displayLabelGroup buckets a display label into the first-letter grouping
// used for alphabetical sectioning in contact lists (supplemented feature,
// grounded on original_source's displayLabelGroup helper).
func displayLabelGroup(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return "#"
	}
	r := []rune(strings.ToUpper(label))[0]
	if r < 'A' || r > 'Z' {
		return "#"
	}
	return string(r)
}

// childSpec describes how to persist and reload one non-primary detail type.
type childSpec struct {
	table   string
	columns []string
	extract func(d types.Detail) []any
	build   func(vals []any) map[string]any
}

func asInt(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int32:
		return int64(x)
	case int:
		return int64(x)
	case nil:
		return 0
	default:
		return 0
	}
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

var childSpecs = map[types.DetailType]childSpec{
	types.DetailNickname: {
		table:   "Nicknames",
		columns: []string{"nickname", "lower_nickname"},
		extract: func(d types.Detail) []any {
			nick := stringField(d, "Nickname")
			return []any{nick, strings.ToLower(nick)}
		},
		build: func(v []any) map[string]any { return map[string]any{"Nickname": asString(v[0])} },
	},
	types.DetailPhoneNumber: {
		table:   "PhoneNumbers",
		columns: []string{"number", "normalized_number", "sub_types"},
		extract: func(d types.Detail) []any {
			return []any{stringField(d, "Number"), stringField(d, "NormalizedNumber"), encodeStringList(stringListField(d, "SubTypes"))}
		},
		build: func(v []any) map[string]any {
			return map[string]any{"Number": asString(v[0]), "NormalizedNumber": asString(v[1]), "SubTypes": decodeStringList(asString(v[2]))}
		},
	},
	types.DetailEmailAddress: {
		table:   "EmailAddresses",
		columns: []string{"address", "lower_address"},
		extract: func(d types.Detail) []any {
			addr := stringField(d, "Address")
			return []any{addr, strings.ToLower(addr)}
		},
		build: func(v []any) map[string]any { return map[string]any{"Address": asString(v[0])} },
	},
	types.DetailAddress: {
		table:   "Addresses",
		columns: []string{"street", "city", "region", "post_code", "country", "post_office_box"},
		extract: func(d types.Detail) []any {
			return []any{stringField(d, "Street"), stringField(d, "City"), stringField(d, "Region"), stringField(d, "PostCode"), stringField(d, "Country"), stringField(d, "PostOfficeBox")}
		},
		build: func(v []any) map[string]any {
			return map[string]any{"Street": asString(v[0]), "City": asString(v[1]), "Region": asString(v[2]), "PostCode": asString(v[3]), "Country": asString(v[4]), "PostOfficeBox": asString(v[5])}
		},
	},
	types.DetailOrganization: {
		table:   "Organizations",
		columns: []string{"name", "role", "title", "department"},
		extract: func(d types.Detail) []any {
			return []any{stringField(d, "Name"), stringField(d, "Role"), stringField(d, "Title"), encodeStringList(stringListField(d, "Department"))}
		},
		build: func(v []any) map[string]any {
			return map[string]any{"Name": asString(v[0]), "Role": asString(v[1]), "Title": asString(v[2]), "Department": decodeStringList(asString(v[3]))}
		},
	},
	types.DetailAvatar: {
		table:   "Avatars",
		columns: []string{"image_url", "video_url"},
		extract: func(d types.Detail) []any {
			return []any{stringField(d, "ImageURL"), stringField(d, "VideoURL")}
		},
		build: func(v []any) map[string]any { return map[string]any{"ImageURL": asString(v[0]), "VideoURL": asString(v[1])} },
	},
	types.DetailOnlineAccount: {
		table:   "OnlineAccounts",
		columns: []string{"account_uri", "lower_account_uri", "service_provider", "sub_types"},
		extract: func(d types.Detail) []any {
			uri := stringField(d, "AccountUri")
			return []any{uri, strings.ToLower(uri), stringField(d, "ServiceProvider"), encodeStringList(stringListField(d, "SubTypes"))}
		},
		build: func(v []any) map[string]any {
			return map[string]any{"AccountUri": asString(v[0]), "ServiceProvider": asString(v[2]), "SubTypes": decodeStringList(asString(v[3]))}
		},
	},
	types.DetailPresence: {
		table:   "Presences",
		columns: []string{"presence_state", "message", "timestamp"},
		extract: func(d types.Detail) []any {
			return []any{int64(intField(d, "PresenceState")), stringField(d, "Message"), formatTime(dateField(d, "Timestamp"))}
		},
		build: func(v []any) map[string]any {
			return map[string]any{"PresenceState": int(asInt(v[0])), "Message": asString(v[1]), "Timestamp": parseTime(asString(v[2]))}
		},
	},
	types.DetailAnniversary: {
		table:   "Anniversaries",
		columns: []string{"original_date", "sub_type", "event"},
		extract: func(d types.Detail) []any {
			return []any{formatTime(dateField(d, "OriginalDate")), stringField(d, "SubType"), stringField(d, "Event")}
		},
		build: func(v []any) map[string]any {
			return map[string]any{"OriginalDate": parseTime(asString(v[0])), "SubType": asString(v[1]), "Event": asString(v[2])}
		},
	},
	types.DetailBirthday: {
		table:   "Birthdays",
		columns: []string{"birth_date"},
		extract: func(d types.Detail) []any { return []any{formatTime(dateField(d, "BirthDate"))} },
		build:   func(v []any) map[string]any { return map[string]any{"BirthDate": parseTime(asString(v[0]))} },
	},
	types.DetailNote: {
		table:   "Notes",
		columns: []string{"note"},
		extract: func(d types.Detail) []any { return []any{stringField(d, "Note")} },
		build:   func(v []any) map[string]any { return map[string]any{"Note": asString(v[0])} },
	},
	types.DetailUrl: {
		table:   "Urls",
		columns: []string{"url", "sub_type"},
		extract: func(d types.Detail) []any { return []any{stringField(d, "Url"), stringField(d, "SubType")} },
		build:   func(v []any) map[string]any { return map[string]any{"Url": asString(v[0]), "SubType": asString(v[1])} },
	},
	types.DetailTag: {
		table:   "Tags",
		columns: []string{"tag"},
		extract: func(d types.Detail) []any { return []any{stringField(d, "Tag")} },
		build:   func(v []any) map[string]any { return map[string]any{"Tag": asString(v[0])} },
	},
	types.DetailHobby: {
		table:   "Hobbies",
		columns: []string{"hobby"},
		extract: func(d types.Detail) []any { return []any{stringField(d, "Hobby")} },
		build:   func(v []any) map[string]any { return map[string]any{"Hobby": asString(v[0])} },
	},
}

// insertCommonDetail inserts the shared row in the "details" table and
// returns the assigned detailId.
func insertCommonDetail(ctx context.Context, conn *sql.Conn, contactID int32, d types.Detail) (int32, error) {
	res, err := conn.ExecContext(ctx, `
		INSERT INTO details (contact_id, detail_type, linked_detail_uris, contexts, access_constraints, provenance, modifiable, nonexportable)
		VALUES (?, ?, '', ?, ?, ?, ?, ?)`,
		contactID, string(d.Type), types.JoinContexts(d.Contexts), int(d.AccessConstraint), d.Provenance, d.Modifiable, d.Nonexportable)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return int32(id), nil
}

// insertDetail writes one detail, in its common row and (if it has a child
// table) its type-specific row.
func insertDetail(ctx context.Context, conn *sql.Conn, contactID int32, d types.Detail) error {
	desc, ok := schema.Lookup(d.Type)
	if !ok {
		return fmt.Errorf("insertDetail: unregistered detail type %s", d.Type)
	}
	if desc.Table == "primary" {
		return nil
	}
	detailID, err := insertCommonDetail(ctx, conn, contactID, d)
	if err != nil {
		return err
	}
	spec, ok := childSpecs[d.Type]
	if !ok {
		return fmt.Errorf("insertDetail: no child spec for %s", d.Type)
	}
	cols := append([]string{"detail_id", "contact_id"}, spec.columns...)
	placeholders := strings.Repeat("?,", len(cols))
	placeholders = placeholders[:len(placeholders)-1]
	args := append([]any{detailID, contactID}, spec.extract(d)...)
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", spec.table, strings.Join(cols, ", "), placeholders)
	_, err = conn.ExecContext(ctx, q, args...)
	return err
}

func insertPrimaryRow(ctx context.Context, conn *sql.Conn, r primaryRow) (int32, error) {
	res, err := conn.ExecContext(ctx, `
		INSERT INTO contacts (
			sync_target, created, modified, is_deactivated, is_incidental,
			has_phone_number, has_email_address, has_online_account, is_online,
			first_name, last_name, middle_name, name_prefix, name_suffix,
			lower_first_name, lower_last_name, gender, is_favorite, guid,
			contact_type, display_label, display_label_group,
			global_presence_state, global_presence_nickname,
			origin_metadata_group_id, origin_metadata_id, origin_metadata_enabled,
			incidental_aggregate_id
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.syncTarget, formatTime(r.created), formatTime(r.modified), r.isDeactivated, r.isIncidental,
		r.hasPhoneNumber, r.hasEmailAddress, r.hasOnlineAccount, r.isOnline,
		r.firstName, r.lastName, r.middleName, r.namePrefix, r.nameSuffix,
		strings.ToLower(r.firstName), strings.ToLower(r.lastName), r.gender, r.isFavorite, r.guid,
		r.contactType, r.displayLabel, r.displayLabelGroup,
		r.globalPresenceState, r.globalPresenceNickname,
		r.originGroupID, r.originID, r.originEnabled,
		r.incidentalAggregateID,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return int32(id), nil
}

func updatePrimaryRow(ctx context.Context, conn *sql.Conn, id int32, r primaryRow) error {
	_, err := conn.ExecContext(ctx, `
		UPDATE contacts SET
			sync_target=?, modified=?, is_deactivated=?, is_incidental=?,
			has_phone_number=?, has_email_address=?, has_online_account=?, is_online=?,
			first_name=?, last_name=?, middle_name=?, name_prefix=?, name_suffix=?,
			lower_first_name=?, lower_last_name=?, gender=?, is_favorite=?, guid=?,
			contact_type=?, display_label=?, display_label_group=?,
			global_presence_state=?, global_presence_nickname=?,
			origin_metadata_group_id=?, origin_metadata_id=?, origin_metadata_enabled=?,
			incidental_aggregate_id=?
		WHERE contact_id=?`,
		r.syncTarget, formatTime(r.modified), r.isDeactivated, r.isIncidental,
		r.hasPhoneNumber, r.hasEmailAddress, r.hasOnlineAccount, r.isOnline,
		r.firstName, r.lastName, r.middleName, r.namePrefix, r.nameSuffix,
		strings.ToLower(r.firstName), strings.ToLower(r.lastName), r.gender, r.isFavorite, r.guid,
		r.contactType, r.displayLabel, r.displayLabelGroup,
		r.globalPresenceState, r.globalPresenceNickname,
		r.originGroupID, r.originID, r.originEnabled,
		r.incidentalAggregateID, id,
	)
	return err
}

// maskCoversTable reports whether mask includes any detail type that maps
// to table (used to decide which child tables update_contact rewrites).
func maskCoversTable(mask storage.ContactMask, table string) bool {
	if len(mask) == 0 {
		return true
	}
	for t := range mask {
		if desc, ok := schema.Lookup(t); ok && desc.Table == table {
			return true
		}
	}
	return false
}

// CreateContact implements storage.ContactStore.
func (s *Store) CreateContact(ctx context.Context, c *types.Contact) (int32, error) {
	var id int32
	err := s.withImmediateTx(ctx, "sqlite.CreateContact", func(conn *sql.Conn) error {
		row := extractPrimaryRow(c)
		var err error
		id, err = insertPrimaryRow(ctx, conn, row)
		if err != nil {
			return fmt.Errorf("insert contact row: %w", err)
		}
		for _, d := range c.Details {
			if err := insertDetail(ctx, conn, id, d); err != nil {
				return fmt.Errorf("insert detail %s: %w", d.Type, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, translateSQLiteError("sqlite.CreateContact", err)
	}
	return id, nil
}

// UpdateContact implements storage.ContactStore.
func (s *Store) UpdateContact(ctx context.Context, id int32, c *types.Contact, mask storage.ContactMask) error {
	err := s.withImmediateTx(ctx, "sqlite.UpdateContact", func(conn *sql.Conn) error {
		var exists int
		if err := conn.QueryRowContext(ctx, `SELECT 1 FROM contacts WHERE contact_id = ?`, id).Scan(&exists); err != nil {
			if err == sql.ErrNoRows {
				return engineerr.ErrDoesNotExist
			}
			return err
		}
		row := extractPrimaryRow(c)
		if err := updatePrimaryRow(ctx, conn, id, row); err != nil {
			return fmt.Errorf("update contact row: %w", err)
		}
		for _, spec := range childSpecs {
			if !maskCoversTable(mask, spec.table) {
				continue
			}
			if err := rewriteChildTable(ctx, conn, id, spec); err != nil {
				return err
			}
		}
		for t, spec := range childSpecs {
			if !maskCoversTable(mask, spec.table) {
				continue
			}
			for _, d := range c.Details {
				if d.Type != t {
					continue
				}
				if err := insertDetail(ctx, conn, id, d); err != nil {
					return fmt.Errorf("insert detail %s: %w", d.Type, err)
				}
			}
		}
		return nil
	})
	return translateSQLiteError("sqlite.UpdateContact", err)
}

func rewriteChildTable(ctx context.Context, conn *sql.Conn, contactID int32, spec childSpec) error {
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE contact_id = ?", spec.table), contactID); err != nil {
		return err
	}
	return deleteDetailsForTable(ctx, conn, contactID, spec.table)
}

func deleteDetailsForTable(ctx context.Context, conn *sql.Conn, contactID int32, table string) error {
	var types_ []string
	for t, spec := range childSpecs {
		if spec.table == table {
			types_ = append(types_, string(t))
		}
	}
	if len(types_) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(types_))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(types_)+1)
	args = append(args, contactID)
	for _, t := range types_ {
		args = append(args, t)
	}
	q := fmt.Sprintf("DELETE FROM details WHERE contact_id = ? AND detail_type IN (%s)", placeholders)
	_, err := conn.ExecContext(ctx, q, args...)
	return err
}

// RemoveContacts implements storage.ContactStore.
func (s *Store) RemoveContacts(ctx context.Context, ids []int32) error {
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		if id == types.SelfLocalContactID || id == types.SelfAggregateContactID {
			return engineerr.New(engineerr.BadArgument, "sqlite.RemoveContacts", fmt.Sprintf("contact %d is a self contact and cannot be removed", id))
		}
	}
	err := s.withImmediateTx(ctx, "sqlite.RemoveContacts", func(conn *sql.Conn) error {
		for _, id := range ids {
			var target string
			if err := conn.QueryRowContext(ctx, `SELECT sync_target FROM contacts WHERE contact_id = ?`, id).Scan(&target); err != nil {
				if err == sql.ErrNoRows {
					continue
				}
				return err
			}
			if _, err := conn.ExecContext(ctx, `INSERT INTO deleted_contacts (contact_id, sync_target, deleted_at) VALUES (?, ?, ?)`,
				id, target, formatTime(time.Now())); err != nil {
				return err
			}
			for table := range tableSet() {
				if _, err := conn.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE contact_id = ?", table), id); err != nil {
					return err
				}
			}
			if _, err := conn.ExecContext(ctx, `DELETE FROM details WHERE contact_id = ?`, id); err != nil {
				return err
			}
			if _, err := conn.ExecContext(ctx, `DELETE FROM contacts WHERE contact_id = ?`, id); err != nil {
				return err
			}
			if _, err := conn.ExecContext(ctx, `DELETE FROM relationships WHERE first_id = ? OR second_id = ?`, id, id); err != nil {
				return err
			}
		}
		return nil
	})
	return engineerr.Wrap("sqlite.RemoveContacts", err)
}

func tableSet() map[string]bool {
	m := make(map[string]bool, len(childSpecs))
	for _, spec := range childSpecs {
		m[spec.table] = true
	}
	return m
}

// GetContact implements storage.ContactStore.
func (s *Store) GetContact(ctx context.Context, id int32) (*types.Contact, error) {
	var r primaryRow
	var displayLabelGroupCol string
	c := &types.Contact{ID: id}
	var created, modified string
	err := s.db.QueryRowContext(ctx, `
		SELECT sync_target, created, modified, is_deactivated, is_incidental,
			has_phone_number, has_email_address, has_online_account, is_online,
			first_name, last_name, middle_name, name_prefix, name_suffix,
			gender, is_favorite, guid, contact_type, display_label, display_label_group,
			global_presence_state, global_presence_nickname,
			origin_metadata_group_id, origin_metadata_id, origin_metadata_enabled,
			incidental_aggregate_id
		FROM contacts WHERE contact_id = ?`, id).Scan(
		&r.syncTarget, &created, &modified, &c.IsDeactivated, &c.IsIncidental,
		&c.HasPhoneNumber, &c.HasEmailAddress, &c.HasOnlineAccount, &c.IsOnline,
		&r.firstName, &r.lastName, &r.middleName, &r.namePrefix, &r.nameSuffix,
		&r.gender, &r.isFavorite, &r.guid, &r.contactType, &r.displayLabel, &displayLabelGroupCol,
		&r.globalPresenceState, &r.globalPresenceNickname,
		&r.originGroupID, &r.originID, &r.originEnabled,
		&r.incidentalAggregateID,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, engineerr.New(engineerr.DoesNotExist, "sqlite.GetContact", fmt.Sprintf("contact %d", id))
		}
		return nil, engineerr.Wrap("sqlite.GetContact", err)
	}
	c.SyncTarget = types.SyncTarget(r.syncTarget)
	c.Created = parseTime(created)
	c.Modified = parseTime(modified)

	c.Details = append(c.Details, primaryDetails(r)...)

	childDetails, err := loadChildDetails(ctx, s.db, id)
	if err != nil {
		return nil, engineerr.Wrap("sqlite.GetContact", err)
	}
	c.Details = append(c.Details, childDetails...)
	return c, nil
}

// primaryDetails reconstructs the "primary"-table detail entries (Name,
// Gender, Favorite, Guid, Type, DisplayLabel, GlobalPresence,
// OriginMetadata, Incidental) from a loaded primaryRow.
func primaryDetails(r primaryRow) []types.Detail {
	var out []types.Detail
	if r.firstName != "" || r.lastName != "" || r.middleName != "" || r.namePrefix != "" || r.nameSuffix != "" {
		out = append(out, types.Detail{Type: types.DetailName, Fields: map[string]any{
			"FirstName": r.firstName, "LastName": r.lastName, "MiddleName": r.middleName,
			"Prefix": r.namePrefix, "Suffix": r.nameSuffix,
		}})
	}
	if r.gender != "" {
		out = append(out, types.Detail{Type: types.DetailGender, Fields: map[string]any{"Gender": r.gender}})
	}
	out = append(out, types.Detail{Type: types.DetailFavorite, Fields: map[string]any{"IsFavorite": r.isFavorite}})
	out = append(out, types.Detail{Type: types.DetailTimestamp, Fields: map[string]any{"Created": r.created, "LastModified": r.modified}})
	if r.guid != "" {
		out = append(out, types.Detail{Type: types.DetailGuid, Fields: map[string]any{"Guid": r.guid}})
	}
	if r.contactType != "" {
		out = append(out, types.Detail{Type: types.DetailType_, Fields: map[string]any{"Type": r.contactType}})
	}
	if r.displayLabel != "" {
		out = append(out, types.Detail{Type: types.DetailDisplayLabel, Fields: map[string]any{"Label": r.displayLabel}})
	}
	out = append(out, types.Detail{Type: types.DetailGlobalPresence, Fields: map[string]any{
		"PresenceState": r.globalPresenceState, "Nickname": r.globalPresenceNickname,
	}})
	if r.originID != "" || r.originGroupID != "" {
		out = append(out, types.Detail{Type: types.DetailOriginMetadata, Fields: map[string]any{
			"GroupId": r.originGroupID, "Id": r.originID, "Enabled": r.originEnabled,
		}})
	}
	if r.incidentalAggregateID.Valid {
		out = append(out, types.Detail{Type: types.DetailIncidental, Fields: map[string]any{"AggregateId": int(r.incidentalAggregateID.Int64)}})
	}
	return out
}

func loadChildDetails(ctx context.Context, db *sql.DB, contactID int32) ([]types.Detail, error) {
	var out []types.Detail
	for detailType, spec := range childSpecs {
		cols := append([]string{"detail_id"}, spec.columns...)
		q := fmt.Sprintf("SELECT %s FROM %s WHERE contact_id = ?", strings.Join(cols, ", "), spec.table)
		rows, err := db.QueryContext(ctx, q, contactID)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			scanTargets := make([]any, len(cols))
			var detailID int64
			scanTargets[0] = &detailID
			raw := make([]any, len(spec.columns))
			for i := range raw {
				scanTargets[i+1] = &raw[i]
			}
			if err := rows.Scan(scanTargets...); err != nil {
				rows.Close()
				return nil, err
			}
			d := types.Detail{DetailID: int32(detailID), Type: detailType, Fields: spec.build(raw)}
			out = append(out, d)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	// Fill in common-row metadata (contexts, access constraints, provenance,
	// modifiable, nonexportable) for every detail just loaded.
	for i := range out {
		meta, err := loadCommonDetailMeta(ctx, db, out[i].DetailID)
		if err != nil {
			return nil, err
		}
		out[i].Contexts = meta.contexts
		out[i].AccessConstraint = meta.access
		out[i].Provenance = meta.provenance
		out[i].Modifiable = meta.modifiable
		out[i].Nonexportable = meta.nonexportable
	}
	return out, nil
}

type commonDetailMeta struct {
	contexts      []types.Context
	access        types.AccessConstraint
	provenance    string
	modifiable    bool
	nonexportable bool
}

func loadCommonDetailMeta(ctx context.Context, db *sql.DB, detailID int32) (commonDetailMeta, error) {
	var contexts string
	var access int
	var meta commonDetailMeta
	err := db.QueryRowContext(ctx, `SELECT contexts, access_constraints, provenance, modifiable, nonexportable FROM details WHERE detail_id = ?`, detailID).
		Scan(&contexts, &access, &meta.provenance, &meta.modifiable, &meta.nonexportable)
	if err != nil {
		return meta, err
	}
	meta.contexts = types.SplitContexts(contexts)
	meta.access = types.AccessConstraint(access)
	return meta, nil
}

// ContactExists implements storage.ContactStore.
func (s *Store) ContactExists(ctx context.Context, id int32) (bool, types.SyncTarget, error) {
	var target string
	err := s.db.QueryRowContext(ctx, `SELECT sync_target FROM contacts WHERE contact_id = ?`, id).Scan(&target)
	if err == sql.ErrNoRows {
		return false, "", nil
	}
	if err != nil {
		return false, "", engineerr.Wrap("sqlite.ContactExists", err)
	}
	return true, types.SyncTarget(target), nil
}

// ListContactIDs implements the supplemented ListContactIDs operation
// (spec.md §4 Design Notes / original_source's fetchContactIds).
func (s *Store) ListContactIDs(ctx context.Context, target types.SyncTarget) ([]int32, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT contact_id FROM contacts WHERE sync_target = ? ORDER BY contact_id`, string(target))
	if err != nil {
		return nil, engineerr.Wrap("sqlite.ListContactIDs", err)
	}
	defer rows.Close()
	var out []int32
	for rows.Next() {
		var id int32
		if err := rows.Scan(&id); err != nil {
			return nil, engineerr.Wrap("sqlite.ListContactIDs", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
