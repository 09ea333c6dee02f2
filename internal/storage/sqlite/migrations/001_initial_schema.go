// Package migrations holds one file per schema migration, in a
// NNN_description.go naming convention. This engine's schema is fixed by
// spec.md §6 and §4.A (third-party detail schema evolution is an explicit
// Non-goal), so there is a single initial migration; the numbered-file
// convention is kept so a future detail type would be added the same way.
package migrations

import "database/sql"

// statements is the full set of CREATE TABLE / CREATE INDEX statements for
// a fresh database. Every statement is idempotent (IF NOT EXISTS) so
// MigrateInitialSchema can run against an already-initialized database
// safely.
var statements = []string{
	`CREATE TABLE IF NOT EXISTS contacts (
		contact_id INTEGER PRIMARY KEY AUTOINCREMENT,
		sync_target TEXT NOT NULL,
		created TEXT NOT NULL,
		modified TEXT NOT NULL,
		is_deactivated INTEGER NOT NULL DEFAULT 0,
		is_incidental INTEGER NOT NULL DEFAULT 0,
		has_phone_number INTEGER NOT NULL DEFAULT 0,
		has_email_address INTEGER NOT NULL DEFAULT 0,
		has_online_account INTEGER NOT NULL DEFAULT 0,
		is_online INTEGER NOT NULL DEFAULT 0,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		middle_name TEXT NOT NULL DEFAULT '',
		name_prefix TEXT NOT NULL DEFAULT '',
		name_suffix TEXT NOT NULL DEFAULT '',
		lower_first_name TEXT NOT NULL DEFAULT '',
		lower_last_name TEXT NOT NULL DEFAULT '',
		gender TEXT NOT NULL DEFAULT '',
		is_favorite INTEGER NOT NULL DEFAULT 0,
		guid TEXT NOT NULL DEFAULT '',
		contact_type TEXT NOT NULL DEFAULT '',
		display_label TEXT NOT NULL DEFAULT '',
		display_label_group TEXT NOT NULL DEFAULT '',
		global_presence_state INTEGER NOT NULL DEFAULT 6,
		global_presence_nickname TEXT NOT NULL DEFAULT '',
		origin_metadata_group_id TEXT NOT NULL DEFAULT '',
		origin_metadata_id TEXT NOT NULL DEFAULT '',
		origin_metadata_enabled INTEGER NOT NULL DEFAULT 1,
		incidental_aggregate_id INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_contacts_sync_target ON contacts(sync_target)`,
	`CREATE INDEX IF NOT EXISTS idx_contacts_lower_names ON contacts(lower_last_name, lower_first_name)`,

	`CREATE TABLE IF NOT EXISTS details (
		detail_id INTEGER PRIMARY KEY AUTOINCREMENT,
		contact_id INTEGER NOT NULL REFERENCES contacts(contact_id),
		detail_type TEXT NOT NULL,
		detail_uri TEXT NOT NULL DEFAULT '',
		linked_detail_uris TEXT NOT NULL DEFAULT '',
		contexts TEXT NOT NULL DEFAULT '',
		access_constraints INTEGER NOT NULL DEFAULT 0,
		provenance TEXT NOT NULL DEFAULT '',
		modifiable INTEGER NOT NULL DEFAULT 0,
		nonexportable INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_details_contact ON details(contact_id)`,
	`CREATE INDEX IF NOT EXISTS idx_details_provenance ON details(provenance)`,
	`CREATE INDEX IF NOT EXISTS idx_details_type ON details(detail_type)`,

	`CREATE TABLE IF NOT EXISTS nicknames (
		detail_id INTEGER PRIMARY KEY REFERENCES details(detail_id),
		contact_id INTEGER NOT NULL REFERENCES contacts(contact_id),
		nickname TEXT NOT NULL DEFAULT '',
		lower_nickname TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_nicknames_lower ON nicknames(lower_nickname)`,

	`CREATE TABLE IF NOT EXISTS PhoneNumbers (
		detail_id INTEGER PRIMARY KEY REFERENCES details(detail_id),
		contact_id INTEGER NOT NULL REFERENCES contacts(contact_id),
		number TEXT NOT NULL DEFAULT '',
		normalized_number TEXT NOT NULL DEFAULT '',
		sub_types TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_phone_numbers_normalized ON PhoneNumbers(normalized_number)`,

	`CREATE TABLE IF NOT EXISTS EmailAddresses (
		detail_id INTEGER PRIMARY KEY REFERENCES details(detail_id),
		contact_id INTEGER NOT NULL REFERENCES contacts(contact_id),
		address TEXT NOT NULL DEFAULT '',
		lower_address TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_email_addresses_lower ON EmailAddresses(lower_address)`,

	`CREATE TABLE IF NOT EXISTS addresses (
		detail_id INTEGER PRIMARY KEY REFERENCES details(detail_id),
		contact_id INTEGER NOT NULL REFERENCES contacts(contact_id),
		street TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		region TEXT NOT NULL DEFAULT '',
		post_code TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		post_office_box TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS organizations (
		detail_id INTEGER PRIMARY KEY REFERENCES details(detail_id),
		contact_id INTEGER NOT NULL REFERENCES contacts(contact_id),
		name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		department TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS avatars (
		detail_id INTEGER PRIMARY KEY REFERENCES details(detail_id),
		contact_id INTEGER NOT NULL REFERENCES contacts(contact_id),
		image_url TEXT NOT NULL DEFAULT '',
		video_url TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS OnlineAccounts (
		detail_id INTEGER PRIMARY KEY REFERENCES details(detail_id),
		contact_id INTEGER NOT NULL REFERENCES contacts(contact_id),
		account_uri TEXT NOT NULL DEFAULT '',
		lower_account_uri TEXT NOT NULL DEFAULT '',
		service_provider TEXT NOT NULL DEFAULT '',
		sub_types TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_online_accounts_lower ON OnlineAccounts(lower_account_uri)`,

	`CREATE TABLE IF NOT EXISTS presences (
		detail_id INTEGER PRIMARY KEY REFERENCES details(detail_id),
		contact_id INTEGER NOT NULL REFERENCES contacts(contact_id),
		presence_state INTEGER NOT NULL DEFAULT 6,
		message TEXT NOT NULL DEFAULT '',
		timestamp TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS anniversaries (
		detail_id INTEGER PRIMARY KEY REFERENCES details(detail_id),
		contact_id INTEGER NOT NULL REFERENCES contacts(contact_id),
		original_date TEXT NOT NULL DEFAULT '',
		sub_type TEXT NOT NULL DEFAULT '',
		event TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS birthdays (
		detail_id INTEGER PRIMARY KEY REFERENCES details(detail_id),
		contact_id INTEGER NOT NULL REFERENCES contacts(contact_id),
		birth_date TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS notes (
		detail_id INTEGER PRIMARY KEY REFERENCES details(detail_id),
		contact_id INTEGER NOT NULL REFERENCES contacts(contact_id),
		note TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS urls (
		detail_id INTEGER PRIMARY KEY REFERENCES details(detail_id),
		contact_id INTEGER NOT NULL REFERENCES contacts(contact_id),
		url TEXT NOT NULL DEFAULT '',
		sub_type TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS tags (
		detail_id INTEGER PRIMARY KEY REFERENCES details(detail_id),
		contact_id INTEGER NOT NULL REFERENCES contacts(contact_id),
		tag TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS hobbies (
		detail_id INTEGER PRIMARY KEY REFERENCES details(detail_id),
		contact_id INTEGER NOT NULL REFERENCES contacts(contact_id),
		hobby TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS relationships (
		first_id INTEGER NOT NULL,
		second_id INTEGER NOT NULL,
		type TEXT NOT NULL,
		UNIQUE(first_id, second_id, type)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_first ON relationships(first_id, type)`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_second ON relationships(second_id, type)`,

	`CREATE TABLE IF NOT EXISTS identities (
		name TEXT PRIMARY KEY,
		contact_id INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS oob (
		scope TEXT NOT NULL,
		key TEXT NOT NULL,
		value BLOB NOT NULL,
		is_text INTEGER NOT NULL DEFAULT 0,
		compression_code INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (scope, key)
	)`,

	`CREATE TABLE IF NOT EXISTS deleted_contacts (
		contact_id INTEGER NOT NULL,
		sync_target TEXT NOT NULL,
		deleted_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deleted_contacts_target ON deleted_contacts(sync_target, deleted_at)`,
	`CREATE INDEX IF NOT EXISTS idx_deleted_contacts_id ON deleted_contacts(contact_id)`,
}

// MigrateInitialSchema creates every table and index the engine needs, if
// not already present.
func MigrateInitialSchema(db *sql.DB) error {
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
