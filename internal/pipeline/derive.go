package pipeline

import (
	"strings"
	"time"

	"github.com/steveyegge/contactsdb/internal/types"
)

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
	}
	return 0
}

// deriveFields recomputes displayLabel, globalPresence, the has* status
// flags, and the Created/Modified timestamps before a contact is written
// (spec.md §4.B "Derived-field policy", §4.F step 2). isNew distinguishes a
// fresh contact (Created stamped once) from an update (only Modified moves).
func deriveFields(c *types.Contact, isNew bool) {
	if isNew && c.Created.IsZero() {
		c.Created = now()
	}
	c.Modified = now()

	c.HasPhoneNumber = len(c.DetailsOfType(types.DetailPhoneNumber)) > 0
	c.HasEmailAddress = len(c.DetailsOfType(types.DetailEmailAddress)) > 0
	c.HasOnlineAccount = len(c.DetailsOfType(types.DetailOnlineAccount)) > 0

	presenceState, nickname, online := derivePresence(c)
	setGlobalPresence(c, presenceState, nickname)
	c.IsOnline = online

	setDisplayLabel(c, deriveDisplayLabel(c, nickname))
}

// derivePresence picks the most-available Presence detail (lowest
// PresenceState), breaking ties by iteration order, and reports whether that
// chosen state counts as online.
func derivePresence(c *types.Contact) (state types.PresenceState, nickname string, online bool) {
	state = types.PresenceUnknown
	found := false
	for _, d := range c.DetailsOfType(types.DetailPresence) {
		s := types.PresenceState(intField(d, "PresenceState"))
		if !found || s < state {
			state = s
			found = true
		}
	}
	if !found {
		state = types.PresenceUnknown
	}
	if gp, ok := c.FirstDetailOfType(types.DetailGlobalPresence); ok {
		nickname = stringField(gp, "Nickname")
	}
	online = state.IsOnline()
	return state, nickname, online
}

func setGlobalPresence(c *types.Contact, state types.PresenceState, nickname string) {
	for i := range c.Details {
		if c.Details[i].Type == types.DetailGlobalPresence {
			if c.Details[i].Fields == nil {
				c.Details[i].Fields = map[string]any{}
			}
			c.Details[i].Fields["PresenceState"] = int(state)
			c.Details[i].Fields["Nickname"] = nickname
			return
		}
	}
	c.Details = append(c.Details, types.Detail{
		Type:   types.DetailGlobalPresence,
		Fields: map[string]any{"PresenceState": int(state), "Nickname": nickname},
	})
}

// deriveDisplayLabel implements spec.md §4.B's precedence chain: custom
// label, else first+last name, else a nickname, else the global-presence
// nickname, else an account URI, else an email address, else a phone
// number.
func deriveDisplayLabel(c *types.Contact, globalPresenceNickname string) string {
	if dl, ok := c.FirstDetailOfType(types.DetailDisplayLabel); ok {
		if label := stringField(dl, "Label"); label != "" {
			return label
		}
	}
	if n, ok := c.FirstDetailOfType(types.DetailName); ok {
		first, last := stringField(n, "FirstName"), stringField(n, "LastName")
		if full := strings.TrimSpace(first + " " + last); full != "" {
			return full
		}
	}
	if nick, ok := c.FirstDetailOfType(types.DetailNickname); ok {
		if v := stringField(nick, "Nickname"); v != "" {
			return v
		}
	}
	if globalPresenceNickname != "" {
		return globalPresenceNickname
	}
	if accounts := c.DetailsOfType(types.DetailOnlineAccount); len(accounts) > 0 {
		if v := stringField(accounts[0], "AccountUri"); v != "" {
			return v
		}
	}
	if emails := c.DetailsOfType(types.DetailEmailAddress); len(emails) > 0 {
		if v := stringField(emails[0], "Address"); v != "" {
			return v
		}
	}
	if phones := c.DetailsOfType(types.DetailPhoneNumber); len(phones) > 0 {
		if v := stringField(phones[0], "Number"); v != "" {
			return v
		}
	}
	return ""
}

func setDisplayLabel(c *types.Contact, label string) {
	for i := range c.Details {
		if c.Details[i].Type == types.DetailDisplayLabel {
			if c.Details[i].Fields == nil {
				c.Details[i].Fields = map[string]any{}
			}
			c.Details[i].Fields["Label"] = label
			return
		}
	}
	c.Details = append(c.Details, types.Detail{
		Type:   types.DetailDisplayLabel,
		Fields: map[string]any{"Label": label},
	})
}

// isPresenceOnlyMask reports whether mask is a non-empty subset of
// {Presence, OriginMetadata, OnlineAccount} (spec.md §4.B "Transient
// suppression").
func isPresenceOnlyMask(mask map[types.DetailType]bool) bool {
	if len(mask) == 0 {
		return false
	}
	allowed := map[types.DetailType]bool{
		types.DetailPresence:       true,
		types.DetailOriginMetadata: true,
		types.DetailOnlineAccount:  true,
	}
	for t := range mask {
		if !allowed[t] {
			return false
		}
	}
	return true
}

func now() time.Time { return time.Now().UTC() }
