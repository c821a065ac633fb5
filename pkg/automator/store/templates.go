package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/chaosslabs/personal-automator/pkg/automator/errs"
)

// ListTemplates returns templates, optionally filtered by category.
func (s *Store) ListTemplates(category string) ([]Template, error) {
	query := `SELECT id, name, description, category, code, params_schema,
		required_credentials, suggested_schedule, is_builtin, created_at, updated_at
		FROM templates`
	args := []any{}
	if category != "" {
		query += " WHERE category = ?"
		args = append(args, category)
	}
	query += " ORDER BY name ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.StorageError, "list templates", err)
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, errs.Wrap(errs.StorageError, "scan template", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTemplate fetches a template by id.
func (s *Store) GetTemplate(id string) (Template, error) {
	row := s.db.QueryRow(`SELECT id, name, description, category, code, params_schema,
		required_credentials, suggested_schedule, is_builtin, created_at, updated_at
		FROM templates WHERE id = ?`, id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Template{}, errs.NotFoundf("template %q not found", id)
	}
	if err != nil {
		return Template{}, errs.Wrap(errs.StorageError, "get template", err)
	}
	return t, nil
}

// CreateTemplate inserts a new template. Fails with Conflict if id or name
// already exist.
func (s *Store) CreateTemplate(t Template) (Template, error) {
	if _, err := s.GetTemplate(t.ID); err == nil {
		return Template{}, errs.Conflictf("template %q already exists", t.ID)
	}

	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now

	paramsJSON, requiredJSON, err := marshalTemplateColumns(t)
	if err != nil {
		return Template{}, errs.Wrap(errs.Validation, "encode template", err)
	}

	_, err = s.db.Exec(`INSERT INTO templates
		(id, name, description, category, code, params_schema, required_credentials,
		 suggested_schedule, is_builtin, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Description, t.Category, t.Code, paramsJSON, requiredJSON,
		t.SuggestedSchedule, boolToInt(t.IsBuiltin), formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return Template{}, errs.Conflictf("template name %q already in use", t.Name)
		}
		return Template{}, errs.Wrap(errs.StorageError, "create template", err)
	}
	return t, nil
}

// UpdateTemplate applies patch fields to an existing, non-builtin-protected
// template (IsBuiltin and ID are immutable per spec.md I5).
func (s *Store) UpdateTemplate(id string, patch Template) (Template, error) {
	existing, err := s.GetTemplate(id)
	if err != nil {
		return Template{}, err
	}

	existing.Name = patch.Name
	existing.Description = patch.Description
	existing.Category = patch.Category
	existing.Code = patch.Code
	existing.ParamsSchema = patch.ParamsSchema
	existing.RequiredCredentials = patch.RequiredCredentials
	existing.SuggestedSchedule = patch.SuggestedSchedule
	existing.UpdatedAt = time.Now().UTC()

	paramsJSON, requiredJSON, err := marshalTemplateColumns(existing)
	if err != nil {
		return Template{}, errs.Wrap(errs.Validation, "encode template", err)
	}

	_, err = s.db.Exec(`UPDATE templates SET name=?, description=?, category=?, code=?,
		params_schema=?, required_credentials=?, suggested_schedule=?, updated_at=?
		WHERE id = ?`,
		existing.Name, existing.Description, existing.Category, existing.Code,
		paramsJSON, requiredJSON, existing.SuggestedSchedule, formatTime(existing.UpdatedAt), id)
	if err != nil {
		if isUniqueViolation(err) {
			return Template{}, errs.Conflictf("template name %q already in use", existing.Name)
		}
		return Template{}, errs.Wrap(errs.StorageError, "update template", err)
	}
	return existing, nil
}

// DeleteTemplate removes a template, refusing if it is builtin or still
// referenced by a task.
func (s *Store) DeleteTemplate(id string) error {
	existing, err := s.GetTemplate(id)
	if err != nil {
		return err
	}
	if existing.IsBuiltin {
		return errs.Conflictf("template %q is builtin and cannot be deleted", id)
	}

	inUse, err := s.GetTasksUsingTemplate(id)
	if err != nil {
		return err
	}
	if len(inUse) > 0 {
		return errs.Conflictf("template %q is referenced by %d task(s)", id, len(inUse))
	}

	res, err := s.db.Exec(`DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return errs.Wrap(errs.StorageError, "delete template", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFoundf("template %q not found", id)
	}
	return nil
}

// GetTasksUsingTemplate is the delete-guard query required by spec.md §4.4.
func (s *Store) GetTasksUsingTemplate(templateID string) ([]int64, error) {
	rows, err := s.db.Query(`SELECT id FROM tasks WHERE template_id = ?`, templateID)
	if err != nil {
		return nil, errs.Wrap(errs.StorageError, "query tasks using template", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Wrap(errs.StorageError, "scan task id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (Template, error) {
	var (
		t               Template
		paramsJSON      string
		requiredJSON    string
		isBuiltin       int
		createdAt       string
		updatedAt       string
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Category, &t.Code,
		&paramsJSON, &requiredJSON, &t.SuggestedSchedule, &isBuiltin, &createdAt, &updatedAt); err != nil {
		return Template{}, err
	}

	if err := json.Unmarshal([]byte(paramsJSON), &t.ParamsSchema); err != nil {
		return Template{}, err
	}
	if err := json.Unmarshal([]byte(requiredJSON), &t.RequiredCredentials); err != nil {
		return Template{}, err
	}
	t.IsBuiltin = isBuiltin != 0
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return t, nil
}

func marshalTemplateColumns(t Template) (paramsJSON, requiredJSON string, err error) {
	if t.ParamsSchema == nil {
		t.ParamsSchema = []ParamDecl{}
	}
	if t.RequiredCredentials == nil {
		t.RequiredCredentials = []string{}
	}
	p, err := json.Marshal(t.ParamsSchema)
	if err != nil {
		return "", "", err
	}
	r, err := json.Marshal(t.RequiredCredentials)
	if err != nil {
		return "", "", err
	}
	return string(p), string(r), nil
}
