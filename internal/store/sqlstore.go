package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/coderisk/reviewcore/internal/symbolgraph"
)

// sqlStore backs both the SQLite and Postgres deployments behind the Store
// interface. The two dialects only disagree on a handful of DDL details
// (autoincrement syntax, catalog introspection) — every CRUD method below
// is dialect-neutral sqlx.
type sqlStore struct {
	db      *sqlx.DB
	dialect dialect
	logger  *logrus.Logger
}

func newSQLStore(db *sqlx.DB, d dialect, logger *logrus.Logger) *sqlStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &sqlStore{db: db, dialect: d, logger: logger}
}

func (s *sqlStore) Close() error { return s.db.Close() }

// Migrate runs idempotent DDL: CREATE TABLE IF NOT EXISTS for every table,
// then backfills a branch column (default 'main') onto any pre-existing
// single-branch table.
func (s *sqlStore) Migrate(ctx context.Context) error {
	for _, stmt := range ddlStatements(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	for _, b := range legacyBranchBackfills {
		has, err := s.hasColumn(ctx, b.table, b.column)
		if err != nil {
			return fmt.Errorf("store: migrate: inspect %s: %w", b.table, err)
		}
		if has {
			continue
		}
		alter := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s TEXT NOT NULL DEFAULT 'main'`, b.table, b.column)
		if _, err := s.db.ExecContext(ctx, alter); err != nil {
			return fmt.Errorf("store: migrate: backfill %s.%s: %w", b.table, b.column, err)
		}
	}
	return nil
}

func (s *sqlStore) hasColumn(ctx context.Context, table, column string) (bool, error) {
	switch s.dialect {
	case dialectSQLite:
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, table))
		if err != nil {
			return false, err
		}
		defer rows.Close()
		for rows.Next() {
			var cid int
			var name, ctype string
			var notnull int
			var dflt sql.NullString
			var pk int
			if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
				return false, err
			}
			if name == column {
				return true, nil
			}
		}
		return false, rows.Err()
	default:
		var count int
		err := s.db.GetContext(ctx, &count, `
			SELECT COUNT(*) FROM information_schema.columns
			WHERE table_name = $1 AND column_name = $2`, table, column)
		return count > 0, err
	}
}

func (s *sqlStore) rebind(query string) string {
	return s.db.Rebind(query)
}

// --- Symbols / edges / snapshots -------------------------------------------------

func (s *sqlStore) SaveSymbols(ctx context.Context, repoID, branch string, symbols []symbolgraph.Symbol) error {
	if len(symbols) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	upsert := s.rebind(`
		INSERT INTO symbols (id, repo_id, branch, file_path, name, qualified_name, kind, signature, start_line, end_line, doc_comment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id, repo_id, branch) DO UPDATE SET
			file_path = excluded.file_path,
			name = excluded.name,
			qualified_name = excluded.qualified_name,
			kind = excluded.kind,
			signature = excluded.signature,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			doc_comment = excluded.doc_comment
	`)
	for _, sym := range symbols {
		if _, err := tx.ExecContext(ctx, upsert, sym.ID, repoID, branch, sym.FilePath, sym.Name,
			sym.QualifiedName, string(sym.Kind), sym.Signature, sym.StartLine, sym.EndLine, sym.DocComment); err != nil {
			return fmt.Errorf("store: save symbol %s: %w", sym.ID, err)
		}
	}
	return tx.Commit()
}

func (s *sqlStore) SaveEdges(ctx context.Context, repoID, branch string, edges []symbolgraph.Edge) error {
	if len(edges) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	insert := s.rebind(`INSERT INTO edges (from_id, to_id, kind, repo_id, branch) VALUES (?, ?, ?, ?, ?)`)
	for _, e := range edges {
		if _, err := tx.ExecContext(ctx, insert, e.From, e.To, string(e.Kind), repoID, branch); err != nil {
			return fmt.Errorf("store: save edge %s->%s: %w", e.From, e.To, err)
		}
	}
	return tx.Commit()
}

func (s *sqlStore) DeleteByFile(ctx context.Context, repoID, branch, path string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var ids []string
	selectIDs := s.rebind(`SELECT id FROM symbols WHERE repo_id = ? AND branch = ? AND file_path = ?`)
	if err := tx.SelectContext(ctx, &ids, selectIDs, repoID, branch, path); err != nil {
		return fmt.Errorf("store: delete by file: select ids: %w", err)
	}

	delSymbols := s.rebind(`DELETE FROM symbols WHERE repo_id = ? AND branch = ? AND file_path = ?`)
	if _, err := tx.ExecContext(ctx, delSymbols, repoID, branch, path); err != nil {
		return fmt.Errorf("store: delete by file: symbols: %w", err)
	}

	prefix := path + ":%"
	delEdges := s.rebind(`DELETE FROM edges WHERE repo_id = ? AND branch = ? AND (from_id LIKE ? OR to_id LIKE ?)`)
	if _, err := tx.ExecContext(ctx, delEdges, repoID, branch, prefix, prefix); err != nil {
		return fmt.Errorf("store: delete by file: edges: %w", err)
	}

	if len(ids) > 0 {
		query, args, err := sqlx.In(`DELETE FROM embeddings WHERE repo_id = ? AND symbol_id IN (?)`, repoID, ids)
		if err != nil {
			return fmt.Errorf("store: delete by file: embeddings in-clause: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return fmt.Errorf("store: delete by file: embeddings: %w", err)
		}
	}

	return tx.Commit()
}

func (s *sqlStore) DeleteAllForBranch(ctx context.Context, repoID, branch string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var ids []string
	selectIDs := s.rebind(`SELECT id FROM symbols WHERE repo_id = ? AND branch = ?`)
	if err := tx.SelectContext(ctx, &ids, selectIDs, repoID, branch); err != nil {
		return fmt.Errorf("store: delete all for branch: select ids: %w", err)
	}

	for _, stmt := range []string{
		`DELETE FROM symbols WHERE repo_id = ? AND branch = ?`,
		`DELETE FROM edges WHERE repo_id = ? AND branch = ?`,
		`DELETE FROM graph_snapshots WHERE repo_id = ? AND branch = ?`,
	} {
		if _, err := tx.ExecContext(ctx, s.rebind(stmt), repoID, branch); err != nil {
			return fmt.Errorf("store: delete all for branch: %w", err)
		}
	}

	if len(ids) > 0 {
		query, args, err := sqlx.In(`DELETE FROM embeddings WHERE repo_id = ? AND symbol_id IN (?)`, repoID, ids)
		if err == nil {
			tx.ExecContext(ctx, tx.Rebind(query), args...)
		}
	}

	return tx.Commit()
}

type symbolRow struct {
	ID            string `db:"id"`
	RepoID        string `db:"repo_id"`
	Branch        string `db:"branch"`
	FilePath      string `db:"file_path"`
	Name          string `db:"name"`
	QualifiedName string `db:"qualified_name"`
	Kind          string `db:"kind"`
	Signature     sql.NullString `db:"signature"`
	StartLine     sql.NullInt64  `db:"start_line"`
	EndLine       sql.NullInt64  `db:"end_line"`
	DocComment    sql.NullString `db:"doc_comment"`
}

type edgeRow struct {
	FromID string `db:"from_id"`
	ToID   string `db:"to_id"`
	Kind   string `db:"kind"`
	RepoID string `db:"repo_id"`
	Branch string `db:"branch"`
}

func (s *sqlStore) LoadAll(ctx context.Context, repoID, branch string) ([]symbolgraph.Symbol, []symbolgraph.Edge, error) {
	var symRows []symbolRow
	q1 := s.rebind(`SELECT id, repo_id, branch, file_path, name, qualified_name, kind, signature, start_line, end_line, doc_comment
		FROM symbols WHERE repo_id = ? AND branch = ?`)
	if err := s.db.SelectContext(ctx, &symRows, q1, repoID, branch); err != nil {
		return nil, nil, fmt.Errorf("store: load symbols: %w", err)
	}

	var edgeRows []edgeRow
	q2 := s.rebind(`SELECT from_id, to_id, kind, repo_id, branch FROM edges WHERE repo_id = ? AND branch = ?`)
	if err := s.db.SelectContext(ctx, &edgeRows, q2, repoID, branch); err != nil {
		return nil, nil, fmt.Errorf("store: load edges: %w", err)
	}

	symbols := make([]symbolgraph.Symbol, len(symRows))
	for i, r := range symRows {
		symbols[i] = symbolgraph.Symbol{
			ID:            r.ID,
			RepoID:        r.RepoID,
			FilePath:      r.FilePath,
			Name:          r.Name,
			QualifiedName: r.QualifiedName,
			Kind:          symbolgraph.SymbolKind(r.Kind),
			Signature:     r.Signature.String,
			StartLine:     int(r.StartLine.Int64),
			EndLine:       int(r.EndLine.Int64),
			DocComment:    r.DocComment.String,
		}
	}
	edges := make([]symbolgraph.Edge, len(edgeRows))
	for i, r := range edgeRows {
		edges[i] = symbolgraph.Edge{From: r.FromID, To: r.ToID, Kind: symbolgraph.EdgeKind(r.Kind), RepoID: r.RepoID}
	}

	return symbols, edges, nil
}

func (s *sqlStore) SaveGraphSnapshot(ctx context.Context, repoID, branch string, data []byte) error {
	query := s.rebind(`
		INSERT INTO graph_snapshots (repo_id, branch, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (repo_id, branch) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`)
	_, err := s.db.ExecContext(ctx, query, repoID, branch, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: save snapshot: %w", err)
	}
	return nil
}

func (s *sqlStore) LoadGraphSnapshot(ctx context.Context, repoID, branch string) ([]byte, bool, error) {
	var data string
	query := s.rebind(`SELECT data FROM graph_snapshots WHERE repo_id = ? AND branch = ?`)
	err := s.db.GetContext(ctx, &data, query, repoID, branch)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: load snapshot: %w", err)
	}
	return []byte(data), true, nil
}

// --- Embeddings -------------------------------------------------------------------

func (s *sqlStore) EmbeddingDim(ctx context.Context, repoID string) (int, bool, error) {
	var dim int
	query := s.rebind(`SELECT dim FROM embedding_meta WHERE repo_id = ?`)
	err := s.db.GetContext(ctx, &dim, query, repoID)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return dim, true, nil
}

// ResetEmbeddings drops every stored vector for repoID and records the new
// dimension — the store's response to a provider/model dimension change.
func (s *sqlStore) ResetEmbeddings(ctx context.Context, repoID string, dim int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM embeddings WHERE repo_id = ?`), repoID); err != nil {
		return err
	}
	upsert := s.rebind(`
		INSERT INTO embedding_meta (repo_id, dim) VALUES (?, ?)
		ON CONFLICT (repo_id) DO UPDATE SET dim = excluded.dim
	`)
	if _, err := tx.ExecContext(ctx, upsert, repoID, dim); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) UpsertEmbedding(ctx context.Context, repoID, symbolID string, vector []float32) error {
	dim, ok, err := s.EmbeddingDim(ctx, repoID)
	if err != nil {
		return err
	}
	if !ok {
		if err := s.ResetEmbeddings(ctx, repoID, len(vector)); err != nil {
			return err
		}
	} else if dim != len(vector) {
		s.logger.WithFields(logrus.Fields{"repo_id": repoID, "stored_dim": dim, "new_dim": len(vector)}).
			Warn("store: embedding dimension changed, resetting vectors")
		if err := s.ResetEmbeddings(ctx, repoID, len(vector)); err != nil {
			return err
		}
	}

	encoded, err := json.Marshal(vector)
	if err != nil {
		return err
	}
	query := s.rebind(`
		INSERT INTO embeddings (symbol_id, repo_id, vector) VALUES (?, ?, ?)
		ON CONFLICT (symbol_id, repo_id) DO UPDATE SET vector = excluded.vector
	`)
	_, err = s.db.ExecContext(ctx, query, symbolID, repoID, string(encoded))
	return err
}

func (s *sqlStore) SearchEmbeddings(ctx context.Context, repoID string, query []float32, topK int) ([]ScoredID, error) {
	type row struct {
		SymbolID string `db:"symbol_id"`
		Vector   string `db:"vector"`
	}
	var rows []row
	q := s.rebind(`SELECT symbol_id, vector FROM embeddings WHERE repo_id = ?`)
	if err := s.db.SelectContext(ctx, &rows, q, repoID); err != nil {
		return nil, fmt.Errorf("store: search embeddings: %w", err)
	}

	scored := make([]ScoredID, 0, len(rows))
	for _, r := range rows {
		var vec []float32
		if err := json.Unmarshal([]byte(r.Vector), &vec); err != nil {
			continue
		}
		scored = append(scored, ScoredID{ID: r.SymbolID, Score: cosineSimilarity(query, vec)})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// --- Branch registration ------------------------------------------------------------

func (s *sqlStore) RegisterBranch(ctx context.Context, ref BranchRef) error {
	query := s.rebind(`
		INSERT INTO repo_branches (repo_id, branch, platform, repo_url) VALUES (?, ?, ?, ?)
		ON CONFLICT (repo_id, branch) DO UPDATE SET platform = excluded.platform, repo_url = excluded.repo_url
	`)
	_, err := s.db.ExecContext(ctx, query, ref.RepoID, ref.Branch, ref.Platform, ref.RepoURL)
	return err
}

// UnregisterBranch removes (repoID, branch) from the registration table,
// so subsequent pushes or PRs against it are dropped as not-indexed.
func (s *sqlStore) UnregisterBranch(ctx context.Context, repoID, branch string) error {
	query := s.rebind(`DELETE FROM repo_branches WHERE repo_id = ? AND branch = ?`)
	_, err := s.db.ExecContext(ctx, query, repoID, branch)
	return err
}

// IsIndexedBranch returns whether (repoID, branch) is registered. A
// missing repo_branches table (first-time, pre-migration deployment) is
// treated as "backwards-compatible mode" and returns true; any other SQL
// error is re-thrown.
func (s *sqlStore) IsIndexedBranch(ctx context.Context, repoID, branch string) (bool, error) {
	var count int
	query := s.rebind(`SELECT COUNT(*) FROM repo_branches WHERE repo_id = ? AND branch = ?`)
	err := s.db.GetContext(ctx, &count, query, repoID, branch)
	if err != nil {
		if isMissingTable(err) {
			return true, nil
		}
		return false, err
	}
	return count > 0, nil
}

func (s *sqlStore) ListBranches(ctx context.Context) ([]BranchRef, error) {
	var refs []BranchRef
	query := `SELECT repo_id, branch, platform, repo_url FROM repo_branches`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		if isMissingTable(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var r BranchRef
		var repoURL sql.NullString
		if err := rows.Scan(&r.RepoID, &r.Branch, &r.Platform, &repoURL); err != nil {
			return nil, err
		}
		r.RepoURL = repoURL.String
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

func isMissingTable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such table") || strings.Contains(msg, "does not exist") || strings.Contains(msg, "doesn't exist")
}

// --- Iteration / checkpoint state ----------------------------------------------------

func (s *sqlStore) ReadIterationState(ctx context.Context, repoID string, prNumber int, platform string) (int64, error) {
	var v int64
	query := s.rebind(`SELECT last_reviewed_iteration FROM pr_review_state WHERE repo_id = ? AND pr_number = ? AND platform = ?`)
	err := s.db.GetContext(ctx, &v, query, repoID, prNumber, platform)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}

func (s *sqlStore) WriteIterationState(ctx context.Context, repoID string, prNumber int, platform string, iteration int64) error {
	query := s.rebind(`
		INSERT INTO pr_review_state (repo_id, pr_number, platform, last_reviewed_iteration) VALUES (?, ?, ?, ?)
		ON CONFLICT (repo_id, pr_number, platform) DO UPDATE SET last_reviewed_iteration = excluded.last_reviewed_iteration
	`)
	_, err := s.db.ExecContext(ctx, query, repoID, prNumber, platform, iteration)
	return err
}

// --- Reviews / comments / feedback ----------------------------------------------------

func (s *sqlStore) SaveReview(ctx context.Context, review Review) error {
	query := s.rebind(`
		INSERT INTO reviews (id, repo_id, pr_number, verdict, comment_count, created_at) VALUES (?, ?, ?, ?, ?, ?)
	`)
	createdAt := review.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, query, review.ID, review.RepoID, review.PRNumber, review.Verdict, review.CommentCount, createdAt)
	return err
}

func (s *sqlStore) SaveComment(ctx context.Context, comment Comment) error {
	var embedding sql.NullString
	if len(comment.Embedding) > 0 {
		b, err := json.Marshal(comment.Embedding)
		if err != nil {
			return err
		}
		embedding = sql.NullString{String: string(b), Valid: true}
	}
	var confidence sql.NullFloat64
	if comment.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *comment.Confidence, Valid: true}
	}

	query := s.rebind(`
		INSERT INTO comments (id, review_id, repo_id, pr_number, path, line, body, severity, confidence, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.ExecContext(ctx, query, comment.ID, comment.ReviewID, comment.RepoID, comment.PRNumber,
		comment.Path, comment.Line, comment.Body, string(comment.Severity), confidence, embedding)
	return err
}

// SearchComments returns the topK comments in repoID with an embedding
// present whose feedback signal matches accepted/rejected, ordered by
// cosine distance to query.
func (s *sqlStore) SearchComments(ctx context.Context, repoID string, query []float32, accepted bool, topK int) ([]Comment, error) {
	signal := "rejected"
	if accepted {
		signal = "accepted"
	}

	type row struct {
		ID         string         `db:"id"`
		ReviewID   string         `db:"review_id"`
		RepoID     string         `db:"repo_id"`
		PRNumber   int            `db:"pr_number"`
		Path       string         `db:"path"`
		Line       int            `db:"line"`
		Body       string         `db:"body"`
		Severity   string         `db:"severity"`
		Confidence sql.NullFloat64 `db:"confidence"`
		Embedding  string         `db:"embedding"`
	}
	var rows []row
	q := s.rebind(`
		SELECT c.id, c.review_id, c.repo_id, c.pr_number, c.path, c.line, c.body, c.severity, c.confidence, c.embedding
		FROM comments c
		JOIN feedback f ON f.comment_id = c.id
		WHERE c.repo_id = ? AND f.signal = ? AND c.embedding IS NOT NULL AND c.embedding != ''
	`)
	if err := s.db.SelectContext(ctx, &rows, q, repoID, signal); err != nil {
		return nil, fmt.Errorf("store: search comments: %w", err)
	}

	type scoredComment struct {
		Comment Comment
		Score   float64
	}
	scored := make([]scoredComment, 0, len(rows))
	for _, r := range rows {
		var vec []float32
		if err := json.Unmarshal([]byte(r.Embedding), &vec); err != nil {
			continue
		}
		c := Comment{
			ID: r.ID, ReviewID: r.ReviewID, RepoID: r.RepoID, PRNumber: r.PRNumber,
			Path: r.Path, Line: r.Line, Body: r.Body, Severity: Severity(r.Severity),
		}
		if r.Confidence.Valid {
			v := r.Confidence.Float64
			c.Confidence = &v
		}
		scored = append(scored, scoredComment{Comment: c, Score: cosineSimilarity(query, vec)})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	out := make([]Comment, len(scored))
	for i, sc := range scored {
		out[i] = sc.Comment
	}
	return out, nil
}

func (s *sqlStore) UpsertFeedback(ctx context.Context, commentID, signal string) error {
	query := s.rebind(`
		INSERT INTO feedback (comment_id, signal, recorded_at) VALUES (?, ?, ?)
		ON CONFLICT (comment_id) DO UPDATE SET signal = excluded.signal, recorded_at = excluded.recorded_at
	`)
	_, err := s.db.ExecContext(ctx, query, commentID, signal, time.Now().UTC())
	return err
}

func (s *sqlStore) GetFeedback(ctx context.Context, commentID string) (string, bool, error) {
	var signal string
	query := s.rebind(`SELECT signal FROM feedback WHERE comment_id = ?`)
	err := s.db.GetContext(ctx, &signal, query, commentID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return signal, true, nil
}
