package store

// Dialect selects the DDL variant migrate() runs. Both dialects converge on
// the same column set so every other method can be written once against
// sqlx placeholders.
type dialect string

const (
	dialectSQLite   dialect = "sqlite"
	dialectPostgres dialect = "postgres"
)

func ddlStatements(d dialect) []string {
	pk := "TEXT PRIMARY KEY"
	autoID := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d == dialectPostgres {
		autoID = "BIGSERIAL PRIMARY KEY"
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS symbols (
			id TEXT NOT NULL,
			repo_id TEXT NOT NULL,
			branch TEXT NOT NULL DEFAULT 'main',
			file_path TEXT NOT NULL,
			name TEXT NOT NULL,
			qualified_name TEXT NOT NULL,
			kind TEXT NOT NULL,
			signature TEXT,
			start_line INTEGER,
			end_line INTEGER,
			doc_comment TEXT,
			PRIMARY KEY (id, repo_id, branch)
		)`,
		`CREATE TABLE IF NOT EXISTS edges (
			id ` + autoID + `,
			from_id TEXT NOT NULL,
			to_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			repo_id TEXT NOT NULL,
			branch TEXT NOT NULL DEFAULT 'main'
		)`,
		`CREATE TABLE IF NOT EXISTS graph_snapshots (
			repo_id TEXT NOT NULL,
			branch TEXT NOT NULL DEFAULT 'main',
			data TEXT NOT NULL,
			updated_at TIMESTAMP,
			PRIMARY KEY (repo_id, branch)
		)`,
		`CREATE TABLE IF NOT EXISTS embeddings (
			symbol_id TEXT NOT NULL,
			repo_id TEXT NOT NULL,
			vector TEXT NOT NULL,
			PRIMARY KEY (symbol_id, repo_id)
		)`,
		`CREATE TABLE IF NOT EXISTS embedding_meta (
			repo_id TEXT ` + pk + `,
			dim INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS repo_branches (
			repo_id TEXT NOT NULL,
			branch TEXT NOT NULL,
			platform TEXT NOT NULL,
			repo_url TEXT,
			PRIMARY KEY (repo_id, branch)
		)`,
		`CREATE TABLE IF NOT EXISTS pr_review_state (
			repo_id TEXT NOT NULL,
			pr_number INTEGER NOT NULL,
			platform TEXT NOT NULL,
			last_reviewed_iteration BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (repo_id, pr_number, platform)
		)`,
		`CREATE TABLE IF NOT EXISTS reviews (
			id TEXT ` + pk + `,
			repo_id TEXT NOT NULL,
			pr_number INTEGER NOT NULL,
			verdict TEXT NOT NULL,
			comment_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS comments (
			id TEXT ` + pk + `,
			review_id TEXT NOT NULL,
			repo_id TEXT NOT NULL,
			pr_number INTEGER NOT NULL,
			path TEXT NOT NULL,
			line INTEGER NOT NULL,
			body TEXT NOT NULL,
			severity TEXT NOT NULL,
			confidence REAL,
			embedding TEXT,
			accepted_signal TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS feedback (
			comment_id TEXT ` + pk + `,
			signal TEXT NOT NULL,
			recorded_at TIMESTAMP
		)`,
	}
}

// legacyBranchBackfills lists the tables that, in a pre-branch-aware
// deployment, existed without a branch column. Migrate adds the column
// with a 'main' default, so existing single-branch rows become 'main'
// rows. The primary key of a table that already existed is not changed:
// CREATE TABLE IF NOT EXISTS above leaves it as it was, and no index is
// rebuilt.
var legacyBranchBackfills = []struct {
	table  string
	column string
}{
	{"symbols", "branch"},
	{"edges", "branch"},
	{"graph_snapshots", "branch"},
}
