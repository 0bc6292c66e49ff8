package search

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/m-mizutani/docent/pkg/adapter"
	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var tableNameSanitizer = regexp.MustCompile(`[^a-z0-9_]+`)

// pgRow is one record of an index table. Both schemas share the table
// layout; the unused columns stay empty.
type pgRow struct {
	ID                string                      `gorm:"primaryKey;type:text"`
	ParentDocumentID  string                      `gorm:"type:text;index"`
	Content           string                      `gorm:"type:text"`
	SourceFile        string                      `gorm:"type:text;index"`
	SourceFileHash    string                      `gorm:"type:text"`
	ChunkNumber       int                         `gorm:"default:0"`
	ImageURLs         datatypes.JSONSlice[string] `gorm:"column:image_urls"`
	ImageDescriptions datatypes.JSONSlice[string] `gorm:"column:image_descriptions"`
	Title             string                      `gorm:"type:text"`
	Source            string                      `gorm:"type:text"`
	SourceURL         string                      `gorm:"column:source_url;type:text"`
	ContentVector     *pgvector.Vector            `gorm:"type:vector(1536)"`
	Score             float64                     `gorm:"->;-:migration"`
}

func toPgRow(doc *model.Document) *pgRow {
	row := &pgRow{
		ID:                doc.ID,
		ParentDocumentID:  doc.ParentDocumentID,
		Content:           doc.Content,
		SourceFile:        doc.SourceFile,
		SourceFileHash:    doc.SourceFileHash,
		ChunkNumber:       doc.ChunkNumber,
		ImageURLs:         doc.ImageURLs,
		ImageDescriptions: doc.ImageDescriptions,
		Title:             doc.Title,
		Source:            doc.Source,
		SourceURL:         doc.SourceURL,
	}
	if len(doc.ContentVector) == adapter.EmbeddingDimension {
		v := pgvector.NewVector(doc.ContentVector)
		row.ContentVector = &v
	}
	return row
}

func (x *pgRow) document() *model.Document {
	return &model.Document{
		ID:                x.ID,
		ParentDocumentID:  x.ParentDocumentID,
		Content:           x.Content,
		SourceFile:        x.SourceFile,
		SourceFileHash:    x.SourceFileHash,
		ChunkNumber:       x.ChunkNumber,
		ImageURLs:         x.ImageURLs,
		ImageDescriptions: x.ImageDescriptions,
		Title:             x.Title,
		Source:            x.Source,
		SourceURL:         x.SourceURL,
		Score:             x.Score,
	}
}

// Postgres stores each index in its own table with a generated Spanish
// tsvector column for the lexical leg and an HNSW cosine index for the
// vector leg.
type Postgres struct {
	db        *gorm.DB
	closeOnce sync.Once
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to connect to postgres")
	}
	return &Postgres{db: db}, nil
}

// tableName maps an index name to a safe table identifier
func tableName(index string) string {
	return "idx_" + strings.Trim(tableNameSanitizer.ReplaceAllString(strings.ToLower(index), "_"), "_")
}

func (p *Postgres) EnsureIndex(ctx context.Context, index string, schema Schema) error {
	table := tableName(index)
	db := p.db.WithContext(ctx)

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return goerr.Wrap(err, "failed to enable pgvector")
	}
	if err := db.Table(table).AutoMigrate(&pgRow{}); err != nil {
		return goerr.Wrap(err, "failed to migrate index table", goerr.V("table", table))
	}

	ddl := []string{
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS content_tsv tsvector
			GENERATED ALWAYS AS (to_tsvector('spanish', coalesce(title, '') || ' ' || coalesce(source_file, '') || ' ' || coalesce(content, ''))) STORED`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_tsv_idx ON %s USING GIN (content_tsv)`, table, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_vec_idx ON %s USING hnsw (content_vector vector_cosine_ops)`, table, table),
	}
	for _, stmt := range ddl {
		if err := db.Exec(stmt).Error; err != nil {
			return goerr.Wrap(err, "failed to prepare index table",
				goerr.V("table", table), goerr.V("schema", schema))
		}
	}
	return nil
}

func (p *Postgres) Lexical(ctx context.Context, q *Query) ([]*model.Document, error) {
	var rows []*pgRow
	err := p.db.WithContext(ctx).
		Table(tableName(q.Index)).
		Select("*, ts_rank(content_tsv, plainto_tsquery('spanish', ?)) AS score", q.Text).
		Where("content_tsv @@ plainto_tsquery('spanish', ?)", q.Text).
		Order("score DESC").
		Limit(q.TopK).
		Find(&rows).Error
	if err != nil {
		return nil, goerr.Wrap(err, "full text query failed", goerr.V("index", q.Index))
	}
	return toDocuments(rows), nil
}

func (p *Postgres) Nearest(ctx context.Context, q *Query) ([]*model.Document, error) {
	if len(q.Vector) == 0 {
		return nil, nil
	}
	vec := pgvector.NewVector(q.Vector)

	var rows []*pgRow
	err := p.db.WithContext(ctx).
		Table(tableName(q.Index)).
		Select("*, 1 - (content_vector <=> ?) AS score", vec).
		Where("content_vector IS NOT NULL").
		Order(gorm.Expr("content_vector <=> ?", vec)).
		Limit(q.TopK).
		Find(&rows).Error
	if err != nil {
		return nil, goerr.Wrap(err, "vector query failed", goerr.V("index", q.Index))
	}
	return toDocuments(rows), nil
}

func (p *Postgres) Metadata(ctx context.Context, index string) ([]*model.Document, error) {
	table := tableName(index)
	db := p.db.WithContext(ctx)
	if !db.Migrator().HasTable(table) {
		return nil, goerr.Wrap(ErrIndexNotFound, "index table does not exist", goerr.V("table", table))
	}

	var rows []*pgRow
	err := db.Table(table).
		Select("id", "parent_document_id", "source_file", "source_file_hash", "chunk_number",
			"title", "source", "source_url").
		Find(&rows).Error
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list documents", goerr.V("table", table))
	}
	return toDocuments(rows), nil
}

func (p *Postgres) Upsert(ctx context.Context, index string, docs []*model.Document) error {
	rows := make([]*pgRow, len(docs))
	for i, doc := range docs {
		rows[i] = toPgRow(doc)
	}
	err := p.db.WithContext(ctx).
		Table(tableName(index)).
		Omit("Score").
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rows).Error
	if err != nil {
		return goerr.Wrap(err, "failed to upsert rows", goerr.V("index", index))
	}
	return nil
}

func (p *Postgres) DeleteByParent(ctx context.Context, index string, parentIDs []string) error {
	err := p.db.WithContext(ctx).
		Table(tableName(index)).
		Where("parent_document_id IN ?", parentIDs).
		Delete(&pgRow{}).Error
	if err != nil {
		return goerr.Wrap(err, "failed to delete rows", goerr.V("index", index))
	}
	return nil
}

func (p *Postgres) Close() error {
	var err error
	p.closeOnce.Do(func() {
		sqlDB, dberr := p.db.DB()
		if dberr != nil {
			err = goerr.Wrap(dberr, "failed to get sql db")
			return
		}
		if cerr := sqlDB.Close(); cerr != nil {
			err = goerr.Wrap(cerr, "failed to close postgres")
		}
	})
	return err
}

func toDocuments(rows []*pgRow) []*model.Document {
	out := make([]*model.Document, len(rows))
	for i, r := range rows {
		out[i] = r.document()
	}
	return out
}
