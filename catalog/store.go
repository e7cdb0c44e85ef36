// Package catalog stores component and data format specifications and
// answers the discovery questions asked when a component is run: which
// catalog components can serve each of its interfaces, what its parameters
// are, and which of its streams need DMaaP connections.
//
// The catalog is a SQLite database:
//
//	store, err := catalog.Open(ctx, cfg.Catalog.DBPath, catalog.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer store.Close()
package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/c360/onboard/errors"
	"github.com/c360/onboard/naming"
)

//go:embed schema.sql
var ddl string

// MemoryPath opens a private in-memory catalog.
const MemoryPath = ":memory:"

// ImageChecker reports whether a docker image is available to the local
// daemon.
type ImageChecker func(ctx context.Context, image string) (bool, error)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the SQLite backed catalog.
type Store struct {
	db          *sql.DB
	logger      *slog.Logger
	imageExists ImageChecker
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithImageCheck makes AddComponent reject docker components whose image is
// not available locally.
func WithImageCheck(check ImageChecker) Option {
	return func(s *Store) { s.imageExists = check }
}

// Open opens or creates the catalog database at path. An empty path or
// MemoryPath opens an in-memory catalog.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	memory := path == "" || path == MemoryPath
	dsn := MemoryPath
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, errors.WrapFatal(err, "Store", "Open", "create catalog directory")
		}
		dsn = "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.WrapFatal(err, "Store", "Open", "open database")
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, errors.WrapFatal(err, "Store", "Open", "enable foreign keys")
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.WrapFatal(err, "Store", "Open", "ping database")
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		_ = db.Close()
		return nil, errors.WrapFatal(err, "Store", "Open", "create schema")
	}

	s := &Store{db: db, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapTransient(err, "Store", "inTx", "begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.WrapTransient(err, "Store", "inTx", "commit")
	}
	return nil
}

// Entry summarizes a stored component or data format.
type Entry struct {
	ID          string
	Name        string
	Version     string
	Type        string
	Description string
	Owner       string
	Spec        string
	Created     time.Time
	Modified    time.Time
	Published   *time.Time
}

// Ref returns the entry identity.
func (e Entry) Ref() naming.Ref { return naming.NewRef(e.Name, e.Version) }

// IsPublished reports whether the entry is frozen.
func (e Entry) IsPublished() bool { return e.Published != nil }

const (
	componentColumns = `id, name, version, component_type, description, owner, spec, created_at, modified_at, published_at`
	formatColumns    = `id, name, version, '', description, owner, spec, created_at, modified_at, published_at`
)

func scanEntry(scanner interface{ Scan(...any) error }) (Entry, error) {
	var (
		e                 Entry
		created, modified string
		published         sql.NullString
	)
	if err := scanner.Scan(&e.ID, &e.Name, &e.Version, &e.Type, &e.Description, &e.Owner, &e.Spec,
		&created, &modified, &published); err != nil {
		return Entry{}, err
	}
	e.Created, _ = time.Parse(time.RFC3339Nano, created)
	e.Modified, _ = time.Parse(time.RFC3339Nano, modified)
	if published.Valid {
		t, _ := time.Parse(time.RFC3339Nano, published.String)
		e.Published = &t
	}
	return e, nil
}

func queryEntries(ctx context.Context, q querier, query string, args ...any) ([]Entry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "query", "query catalog")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, errors.WrapTransient(err, "Store", "query", "scan row")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "Store", "query", "iterate rows")
	}
	return entries, nil
}

// compareVersions orders semantic versions, falling back to string order
// for versions that do not parse.
func compareVersions(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return va.Compare(vb)
}

// latestOnly keeps the highest version of every name, ordered by name.
func latestOnly(entries []Entry) []Entry {
	best := make(map[string]Entry)
	for _, e := range entries {
		if cur, ok := best[e.Name]; !ok || compareVersions(e.Version, cur.Version) > 0 {
			best[e.Name] = e
		}
	}
	out := make([]Entry, 0, len(best))
	for _, e := range best {
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

func sortEntries(entries []Entry) {
	slices.SortFunc(entries, func(a, b Entry) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return compareVersions(a.Version, b.Version)
	})
}

// lookup fetches one entry by name and version. An empty version selects the
// latest version.
func lookup(ctx context.Context, q querier, table, kind, name, version string) (Entry, error) {
	columns := componentColumns
	if table == "formats" {
		columns = formatColumns
	}

	var (
		entries []Entry
		err     error
	)
	if version == "" {
		entries, err = queryEntries(ctx, q, `SELECT `+columns+` FROM `+table+` WHERE name = ?`, name)
		entries = latestOnly(entries)
	} else {
		entries, err = queryEntries(ctx, q, `SELECT `+columns+` FROM `+table+` WHERE name = ? AND version = ?`, name, version)
	}
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		id := name
		if version != "" {
			id = name + ":" + version
		}
		return Entry{}, fmt.Errorf("%w: %s '%s' was not found in the catalog", errors.ErrMissingEntry, kind, id)
	}
	return entries[0], nil
}

func getComponent(ctx context.Context, q querier, name, version string) (Entry, error) {
	return lookup(ctx, q, "components", "component", name, version)
}

func getFormat(ctx context.Context, q querier, name, version string) (Entry, error) {
	return lookup(ctx, q, "formats", "data format", name, version)
}

func decodeComponent(e Entry) (*ComponentSpec, error) {
	var spec ComponentSpec
	if err := json.Unmarshal([]byte(e.Spec), &spec); err != nil {
		return nil, errors.WrapFatal(err, "Store", "decodeComponent", "decode stored spec "+e.Ref().String())
	}
	return &spec, nil
}

func formatID(ctx context.Context, q querier, ref FormatRef) (string, error) {
	e, err := getFormat(ctx, q, ref.Format, ref.Version)
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

// pairID returns the id of a request/response format pair, creating the pair
// when create is set.
func pairID(ctx context.Context, q querier, pair FormatPair, create bool) (string, error) {
	reqID, err := formatID(ctx, q, pair.Request)
	if err != nil {
		return "", err
	}
	respID, err := formatID(ctx, q, pair.Response)
	if err != nil {
		return "", err
	}

	var id string
	err = q.QueryRowContext(ctx, `SELECT id FROM format_pairs WHERE req_id = ? AND resp_id = ?`, reqID, respID).Scan(&id)
	switch {
	case err == nil:
		return id, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", errors.WrapTransient(err, "Store", "pairID", "query format pair")
	case !create:
		return "", fmt.Errorf("%w: data format pair with request '%s' and response '%s' was not found in the catalog",
			errors.ErrMissingEntry, pair.Request, pair.Response)
	}

	id = uuid.NewString()
	if _, err := q.ExecContext(ctx, `INSERT INTO format_pairs (id, req_id, resp_id) VALUES (?, ?, ?)`, id, reqID, respID); err != nil {
		return "", errors.WrapTransient(err, "Store", "pairID", "insert format pair")
	}
	return id, nil
}

// AddComponent validates spec and stores it owned by user. With update set
// an existing unpublished entry is replaced; without it an existing entry is
// a duplicate. Every referenced data format must already be in the catalog.
func (s *Store) AddComponent(ctx context.Context, user string, spec *ComponentSpec, update bool) error {
	if err := ValidateComponent(spec); err != nil {
		return err
	}

	switch spec.Self.ComponentType {
	case TypeDocker:
		if s.imageExists != nil {
			image, err := spec.DockerImage()
			if err != nil {
				return err
			}
			ok, err := s.imageExists(ctx, image)
			if err != nil {
				return errors.WrapTransient(err, "Store", "AddComponent", "check image "+image)
			}
			if !ok {
				return errors.Invalid("Store", "AddComponent", fmt.Sprintf("specified image %q does not exist locally", image))
			}
		}
	case TypeCDAP:
	default:
		return errors.WrapInvalid(errors.ErrUnsupportedComponentType, "Store", "AddComponent", spec.Self.ComponentType)
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := s.buildComponent(ctx, tx, user, spec, update)
		return err
	})
	if err != nil {
		return err
	}
	s.logger.Debug("Added component to catalog", "component", spec.Ref().String(), "update", update)
	return nil
}

// buildComponent writes the component row and its format relationships
// without committing.
func (s *Store) buildComponent(ctx context.Context, tx *sql.Tx, user string, spec *ComponentSpec, update bool) (string, error) {
	ref := spec.Ref()
	data, err := json.Marshal(spec)
	if err != nil {
		return "", errors.WrapInvalid(err, "Store", "buildComponent", "encode spec")
	}
	now := s.timestamp()

	var id string
	if update {
		existing, err := getComponent(ctx, tx, ref.Name, ref.Version)
		if err != nil {
			return "", err
		}
		if existing.IsPublished() {
			return "", fmt.Errorf("%w: component '%s' has been published and cannot be updated", errors.ErrFrozenEntry, ref)
		}
		id = existing.ID
		if _, err := tx.ExecContext(ctx,
			`UPDATE components SET component_type = ?, description = ?, owner = ?, spec = ?, modified_at = ? WHERE id = ?`,
			spec.Self.ComponentType, spec.Self.Description, user, string(data), now, id); err != nil {
			return "", errors.WrapTransient(err, "Store", "buildComponent", "update component")
		}
		for _, table := range []string{"published", "subscribed", "provided", "called"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE component_id = ?`, id); err != nil {
				return "", errors.WrapTransient(err, "Store", "buildComponent", "clear "+table)
			}
		}
	} else {
		if _, err := getComponent(ctx, tx, ref.Name, ref.Version); err == nil {
			return "", fmt.Errorf("%w: component '%s' already exists; use update to replace it", errors.ErrDuplicateEntry, ref)
		} else if !errors.Is(err, errors.ErrMissingEntry) {
			return "", err
		}
		id = uuid.NewString()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO components (`+componentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
			id, ref.Name, ref.Version, spec.Self.ComponentType, spec.Self.Description, user, string(data), now, now); err != nil {
			return "", errors.WrapTransient(err, "Store", "buildComponent", "insert component")
		}
	}

	streams := []struct {
		table   string
		field   string
		entries []Stream
	}{
		{"published", "publishes", spec.Streams.Publishes},
		{"subscribed", "subscribes", spec.Streams.Subscribes},
	}
	for _, st := range streams {
		seen := make(map[FormatRef]bool)
		for _, entry := range st.entries {
			f := entry.FormatRef()
			if seen[f] {
				continue
			}
			seen[f] = true
			fid, err := formatID(ctx, tx, f)
			if err != nil {
				return "", fmt.Errorf("add failed while traversing %q: %w", st.field, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO `+st.table+` (component_id, format_id) VALUES (?, ?)`, id, fid); err != nil {
				return "", errors.WrapTransient(err, "Store", "buildComponent", "link "+st.table)
			}
		}
	}

	services := []struct {
		table string
		field string
		pairs []FormatPair
	}{
		{"provided", "provides", providePairs(spec.Services.Provides)},
		{"called", "calls", callPairs(spec.Services.Calls)},
	}
	for _, sv := range services {
		seen := make(map[FormatPair]bool)
		for _, pair := range sv.pairs {
			if seen[pair] {
				continue
			}
			seen[pair] = true
			pid, err := pairID(ctx, tx, pair, true)
			if err != nil {
				return "", fmt.Errorf("add failed while traversing %q: %w", sv.field, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO `+sv.table+` (component_id, pair_id) VALUES (?, ?)`, id, pid); err != nil {
				return "", errors.WrapTransient(err, "Store", "buildComponent", "link "+sv.table)
			}
		}
	}
	return id, nil
}

func providePairs(entries []ServiceProvide) []FormatPair {
	pairs := make([]FormatPair, 0, len(entries))
	for _, e := range entries {
		pairs = append(pairs, e.Pair())
	}
	return pairs
}

func callPairs(entries []ServiceCall) []FormatPair {
	pairs := make([]FormatPair, 0, len(entries))
	for _, e := range entries {
		pairs = append(pairs, e.Pair())
	}
	return pairs
}

// AddFormat validates spec and stores it owned by user, with the same update
// rules as AddComponent.
func (s *Store) AddFormat(ctx context.Context, user string, spec *FormatSpec, update bool) error {
	if err := ValidateFormat(spec); err != nil {
		return err
	}
	ref := spec.Ref()
	data, err := json.Marshal(spec)
	if err != nil {
		return errors.WrapInvalid(err, "Store", "AddFormat", "encode spec")
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.timestamp()
		existing, err := getFormat(ctx, tx, ref.Name, ref.Version)
		switch {
		case err != nil && !errors.Is(err, errors.ErrMissingEntry):
			return err
		case update && err != nil:
			return err
		case update && existing.IsPublished():
			return fmt.Errorf("%w: data format '%s' has been published and cannot be updated", errors.ErrFrozenEntry, ref)
		case update:
			_, err := tx.ExecContext(ctx,
				`UPDATE formats SET description = ?, owner = ?, spec = ?, modified_at = ? WHERE id = ?`,
				spec.Self.Description, user, string(data), now, existing.ID)
			return errors.WrapTransient(err, "Store", "AddFormat", "update format")
		case err == nil:
			return fmt.Errorf("%w: data format '%s' already exists; use update to replace it", errors.ErrDuplicateEntry, ref)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO formats (id, name, version, description, owner, spec, created_at, modified_at, published_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
			uuid.NewString(), ref.Name, ref.Version, spec.Self.Description, user, string(data), now, now)
		return errors.WrapTransient(err, "Store", "AddFormat", "insert format")
	})
}

// PublishComponent freezes a component. It reports false, with a log entry,
// when user is not the owner or the component is already published.
func (s *Store) PublishComponent(ctx context.Context, user, name, version string) (bool, error) {
	return s.publish(ctx, "components", getComponent, user, name, version)
}

// PublishFormat freezes a data format with the rules of PublishComponent.
func (s *Store) PublishFormat(ctx context.Context, user, name, version string) (bool, error) {
	return s.publish(ctx, "formats", getFormat, user, name, version)
}

func (s *Store) publish(ctx context.Context, table string, get func(context.Context, querier, string, string) (Entry, error),
	user, name, version string) (bool, error) {
	var published bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		e, err := get(ctx, tx, name, version)
		if err != nil {
			return err
		}
		switch {
		case e.Owner != user:
			s.logger.Error("Not authorized to publish", "entry", e.Ref().String(), "owner", e.Owner, "user", user)
			return nil
		case e.IsPublished():
			s.logger.Warn("Entry has already been published", "entry", e.Ref().String())
			return nil
		}
		if _, err := tx.ExecContext(ctx, `UPDATE `+table+` SET published_at = ? WHERE id = ?`, s.timestamp(), e.ID); err != nil {
			return errors.WrapTransient(err, "Store", "publish", "update "+table)
		}
		published = true
		return nil
	})
	return published, err
}

// UnpublishedFormats lists the distinct data formats a component references
// that are not yet published.
func (s *Store) UnpublishedFormats(ctx context.Context, name, version string) ([]FormatRef, error) {
	c, err := getComponent(ctx, s.db, name, version)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.name, f.version FROM formats f
		WHERE f.published_at IS NULL AND f.id IN (
			SELECT format_id FROM published WHERE component_id = ?1
			UNION SELECT format_id FROM subscribed WHERE component_id = ?1
			UNION SELECT fp.req_id FROM format_pairs fp JOIN provided p ON p.pair_id = fp.id WHERE p.component_id = ?1
			UNION SELECT fp.resp_id FROM format_pairs fp JOIN provided p ON p.pair_id = fp.id WHERE p.component_id = ?1
			UNION SELECT fp.req_id FROM format_pairs fp JOIN called k ON k.pair_id = fp.id WHERE k.component_id = ?1
			UNION SELECT fp.resp_id FROM format_pairs fp JOIN called k ON k.pair_id = fp.id WHERE k.component_id = ?1
		)
		ORDER BY f.name, f.version`, c.ID)
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "UnpublishedFormats", "query formats")
	}
	defer rows.Close()

	var refs []FormatRef
	for rows.Next() {
		var f FormatRef
		if err := rows.Scan(&f.Format, &f.Version); err != nil {
			return nil, errors.WrapTransient(err, "Store", "UnpublishedFormats", "scan row")
		}
		refs = append(refs, f)
	}
	return refs, rows.Err()
}

// Verify returns the catalog identity of a component. An empty version
// resolves to the latest version.
func (s *Store) Verify(ctx context.Context, name, version string) (naming.Ref, error) {
	e, err := getComponent(ctx, s.db, name, version)
	if err != nil {
		return naming.Ref{}, err
	}
	return e.Ref(), nil
}

// ComponentType returns "docker" or "cdap".
func (s *Store) ComponentType(ctx context.Context, name, version string) (string, error) {
	e, err := getComponent(ctx, s.db, name, version)
	if err != nil {
		return "", err
	}
	return e.Type, nil
}

// ComponentSpec returns a stored component spec.
func (s *Store) ComponentSpec(ctx context.Context, name, version string) (*ComponentSpec, error) {
	e, err := getComponent(ctx, s.db, name, version)
	if err != nil {
		return nil, err
	}
	return decodeComponent(e)
}

// FormatSpec returns a stored data format spec.
func (s *Store) FormatSpec(ctx context.Context, name, version string) (*FormatSpec, error) {
	e, err := getFormat(ctx, s.db, name, version)
	if err != nil {
		return nil, err
	}
	var spec FormatSpec
	if err := json.Unmarshal([]byte(e.Spec), &spec); err != nil {
		return nil, errors.WrapFatal(err, "Store", "FormatSpec", "decode stored spec "+e.Ref().String())
	}
	return &spec, nil
}

// DockerImage returns the image of a docker component.
func (s *Store) DockerImage(ctx context.Context, name, version string) (string, error) {
	spec, err := s.ComponentSpec(ctx, name, version)
	if err != nil {
		return "", err
	}
	return spec.DockerImage()
}

// DockerComponent is everything needed to run a docker component.
type DockerComponent struct {
	Image  string
	Config DockerConfig
	Spec   *ComponentSpec
}

// Docker returns a docker component with its auxilary defaults applied.
func (s *Store) Docker(ctx context.Context, name, version string) (DockerComponent, error) {
	spec, err := s.ComponentSpec(ctx, name, version)
	if err != nil {
		return DockerComponent{}, err
	}
	image, err := spec.DockerImage()
	if err != nil {
		return DockerComponent{}, err
	}
	cfg, err := spec.DockerConfig()
	if err != nil {
		return DockerComponent{}, err
	}
	return DockerComponent{Image: image, Config: cfg, Spec: spec}, nil
}

// CDAPComponent is everything needed to run a CDAP component.
type CDAPComponent struct {
	Jar    string
	Config CDAPConfig
	Spec   *ComponentSpec
}

// CDAP returns a CDAP component.
func (s *Store) CDAP(ctx context.Context, name, version string) (CDAPComponent, error) {
	spec, err := s.ComponentSpec(ctx, name, version)
	if err != nil {
		return CDAPComponent{}, err
	}
	jar, err := spec.Jar()
	if err != nil {
		return CDAPComponent{}, err
	}
	cfg, err := spec.CDAPConfig()
	if err != nil {
		return CDAPComponent{}, err
	}
	return CDAPComponent{Jar: jar, Config: cfg, Spec: spec}, nil
}

// ListFilter narrows ListComponents and ListFormats. Format filters are
// alternatives: a component matching any of them is listed.
type ListFilter struct {
	User          string
	OnlyPublished bool
	// AllVersions lists every version instead of the latest per name.
	AllVersions bool

	Subscribes []FormatRef
	Publishes  []FormatRef
	Provides   []FormatPair
	Calls      []FormatPair
}

// ListComponents lists components matching filter, ordered by name and
// version.
func (s *Store) ListComponents(ctx context.Context, filter ListFilter) ([]Entry, error) {
	var (
		ors   []string
		where []string
		args  []any
	)

	formatFilters := []struct {
		table string
		refs  []FormatRef
	}{{"subscribed", filter.Subscribes}, {"published", filter.Publishes}}
	for _, ff := range formatFilters {
		for _, ref := range ff.refs {
			id, err := formatID(ctx, s.db, ref)
			if err != nil {
				return nil, err
			}
			ors = append(ors, `EXISTS (SELECT 1 FROM `+ff.table+` x WHERE x.component_id = c.id AND x.format_id = ?)`)
			args = append(args, id)
		}
	}
	pairFilters := []struct {
		table string
		pairs []FormatPair
	}{{"provided", filter.Provides}, {"called", filter.Calls}}
	for _, pf := range pairFilters {
		for _, pair := range pf.pairs {
			id, err := pairID(ctx, s.db, pair, false)
			if err != nil {
				return nil, err
			}
			ors = append(ors, `EXISTS (SELECT 1 FROM `+pf.table+` x WHERE x.component_id = c.id AND x.pair_id = ?)`)
			args = append(args, id)
		}
	}

	if len(ors) > 0 {
		where = append(where, "("+strings.Join(ors, " OR ")+")")
	}
	if filter.User != "" {
		where = append(where, "c.owner = ?")
		args = append(args, filter.User)
	}
	if filter.OnlyPublished {
		where = append(where, "c.published_at IS NOT NULL")
	}

	query := `SELECT ` + componentColumns + ` FROM components c`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	entries, err := queryEntries(ctx, s.db, query, args...)
	if err != nil {
		return nil, err
	}
	return finishList(entries, filter.AllVersions), nil
}

// ListFormats lists data formats matching the user and published filters.
func (s *Store) ListFormats(ctx context.Context, filter ListFilter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if filter.User != "" {
		where = append(where, "owner = ?")
		args = append(args, filter.User)
	}
	if filter.OnlyPublished {
		where = append(where, "published_at IS NOT NULL")
	}
	query := `SELECT ` + formatColumns + ` FROM formats`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	entries, err := queryEntries(ctx, s.db, query, args...)
	if err != nil {
		return nil, err
	}
	return finishList(entries, filter.AllVersions), nil
}

func finishList(entries []Entry, all bool) []Entry {
	if !all {
		return latestOnly(entries)
	}
	sortEntries(entries)
	return entries
}
