package repository

import (
	"context"
	"fmt"
	"log/slog"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const (
	jobsTable      = "processing_jobs"
	documentsTable = "planning_documents"
	analysesTable  = "planning_document_analyses"
)

var textType = map[string]string{dialect.Postgres: "text"}

var (
	// JobsColumns holds the columns for the "processing_jobs" table.
	JobsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "user_id", Type: field.TypeString},
		{Name: "site_id", Type: field.TypeString},
		{Name: "storage_path", Type: field.TypeString, SchemaType: textType},
		{Name: "file_name", Type: field.TypeString},
		{Name: "mime_type", Type: field.TypeString},
		{Name: "focus", Type: field.TypeString, Nullable: true, SchemaType: textType},
		{Name: "status", Type: field.TypeString, Size: 16},
		{Name: "progress", Type: field.TypeInt, Default: 0},
		{Name: "progress_message", Type: field.TypeString},
		{Name: "attempts", Type: field.TypeInt, Default: 0},
		{Name: "error_message", Type: field.TypeString, Nullable: true, SchemaType: textType},
		{Name: "analysis_status", Type: field.TypeString, Size: 16},
		{Name: "analysis_error", Type: field.TypeString, Nullable: true, SchemaType: textType},
		{Name: "planning_document_id", Type: field.TypeUUID, Nullable: true},
		{Name: "started_at", Type: field.TypeTime, Nullable: true},
		{Name: "completed_at", Type: field.TypeTime, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	// JobsTable holds the schema information for the "processing_jobs" table.
	JobsTable = &schema.Table{
		Name:       jobsTable,
		Columns:    JobsColumns,
		PrimaryKey: []*schema.Column{JobsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "processingjob_status_updated_at", Columns: columns(JobsColumns, "status", "updated_at")},
			{Name: "processingjob_site_id_created_at", Columns: columns(JobsColumns, "site_id", "created_at")},
		},
	}

	// DocumentsColumns holds the columns for the "planning_documents" table.
	DocumentsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "job_id", Type: field.TypeUUID},
		{Name: "user_id", Type: field.TypeString},
		{Name: "site_id", Type: field.TypeString},
		{Name: "file_name", Type: field.TypeString},
		{Name: "summary", Type: field.TypeJSON},
		{Name: "model_name", Type: field.TypeString},
		{Name: "created_at", Type: field.TypeTime},
	}
	// DocumentsTable holds the schema information for the "planning_documents" table.
	DocumentsTable = &schema.Table{
		Name:       documentsTable,
		Columns:    DocumentsColumns,
		PrimaryKey: []*schema.Column{DocumentsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "planning_documents_processing_jobs_documents",
				Columns:    columns(DocumentsColumns, "job_id"),
				RefColumns: []*schema.Column{JobsColumns[0]},
				OnDelete:   schema.NoAction,
			},
		},
		Indexes: []*schema.Index{
			{Name: "planningdocument_job_id", Columns: columns(DocumentsColumns, "job_id")},
		},
	}

	// AnalysesColumns holds the columns for the "planning_document_analyses" table.
	AnalysesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "planning_document_id", Type: field.TypeUUID},
		{Name: "job_id", Type: field.TypeUUID},
		{Name: "analysis", Type: field.TypeJSON},
		{Name: "risk_level", Type: field.TypeString, Nullable: true, Size: 16},
		{Name: "model_name", Type: field.TypeString},
		{Name: "created_at", Type: field.TypeTime},
	}
	// AnalysesTable holds the schema information for the "planning_document_analyses" table.
	AnalysesTable = &schema.Table{
		Name:       analysesTable,
		Columns:    AnalysesColumns,
		PrimaryKey: []*schema.Column{AnalysesColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "planning_document_analyses_planning_documents_analyses",
				Columns:    columns(AnalysesColumns, "planning_document_id"),
				RefColumns: []*schema.Column{DocumentsColumns[0]},
				OnDelete:   schema.NoAction,
			},
		},
		Indexes: []*schema.Index{
			{Name: "planningdocumentanalysis_planning_document_id", Columns: columns(AnalysesColumns, "planning_document_id")},
			{Name: "planningdocumentanalysis_job_id", Columns: columns(AnalysesColumns, "job_id")},
		},
	}

	// Tables holds all the tables in the schema.
	Tables = []*schema.Table{
		JobsTable,
		DocumentsTable,
		AnalysesTable,
	}
)

func init() {
	DocumentsTable.ForeignKeys[0].RefTable = JobsTable
	AnalysesTable.ForeignKeys[0].RefTable = DocumentsTable
}

func columns(all []*schema.Column, names ...string) []*schema.Column {
	out := make([]*schema.Column, 0, len(names))
	for _, n := range names {
		for _, c := range all {
			if c.Name == n {
				out = append(out, c)
			}
		}
	}
	return out
}

// Migrate creates or updates the pipeline tables and indexes.
func Migrate(ctx context.Context, drv *entsql.Driver, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	m, err := schema.NewMigrate(drv)
	if err != nil {
		return fmt.Errorf("new migrate: %w", err)
	}
	if err := m.Create(ctx, Tables...); err != nil {
		logger.Error("db.migrate.failed", "dialect", drv.Dialect(), "error", err)
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("db.migrate.ok", "dialect", drv.Dialect(), "tables", len(Tables))
	return nil
}
