package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/chaosslabs/personal-automator/pkg/automator/errs"
)

// ListCredentials returns credential metadata only; the ciphertext is not
// part of Credential and is handed out solely by EncryptedValue, for the
// executor (spec.md §3 "never expose decrypted values outside of task
// execution").
func (s *Store) ListCredentials() ([]Credential, error) {
	rows, err := s.db.Query(`SELECT id, name, type, description, created_at, last_used_at, encrypted_value
		FROM credentials ORDER BY name ASC`)
	if err != nil {
		return nil, errs.Wrap(errs.StorageError, "list credentials", err)
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, errs.Wrap(errs.StorageError, "scan credential", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCredential fetches metadata by surrogate id.
func (s *Store) GetCredential(id int64) (Credential, error) {
	row := s.db.QueryRow(`SELECT id, name, type, description, created_at, last_used_at, encrypted_value
		FROM credentials WHERE id = ?`, id)
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, errs.NotFoundf("credential %d not found", id)
	}
	if err != nil {
		return Credential{}, errs.Wrap(errs.StorageError, "get credential", err)
	}
	return c, nil
}

// GetCredentialByName fetches metadata by unique name, the form tasks and
// the executor address credentials by.
func (s *Store) GetCredentialByName(name string) (Credential, error) {
	row := s.db.QueryRow(`SELECT id, name, type, description, created_at, last_used_at, encrypted_value
		FROM credentials WHERE name = ?`, name)
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, errs.NotFoundf("credential %q not found", name)
	}
	if err != nil {
		return Credential{}, errs.Wrap(errs.StorageError, "get credential", err)
	}
	return c, nil
}

// CreateCredential registers a new credential's metadata. The caller
// (control plane) encrypts the raw secret via the vault and passes the
// resulting ciphertext as encryptedValue; an empty string means "declared
// but no value set yet".
func (s *Store) CreateCredential(c Credential, encryptedValue string) (Credential, error) {
	c.CreatedAt = time.Now().UTC()
	c.LastUsedAt = nil

	var encCol any
	if encryptedValue != "" {
		encCol = encryptedValue
	}

	res, err := s.db.Exec(`INSERT INTO credentials (name, type, description, created_at, last_used_at, encrypted_value)
		VALUES (?, ?, ?, ?, NULL, ?)`, c.Name, string(c.Type), c.Description, formatTime(c.CreatedAt), encCol)
	if err != nil {
		if isUniqueViolation(err) {
			return Credential{}, errs.Conflictf("credential name %q already in use", c.Name)
		}
		return Credential{}, errs.Wrap(errs.StorageError, "create credential", err)
	}
	c.ID, err = res.LastInsertId()
	if err != nil {
		return Credential{}, errs.Wrap(errs.StorageError, "read new credential id", err)
	}
	c.HasValue = encryptedValue != ""
	return c, nil
}

// SetValue overwrites the encrypted value for an existing credential. Called
// after the control plane re-encrypts a new raw secret through the vault.
func (s *Store) SetValue(id int64, encryptedValue string) error {
	res, err := s.db.Exec(`UPDATE credentials SET encrypted_value = ? WHERE id = ?`, encryptedValue, id)
	if err != nil {
		return errs.Wrap(errs.StorageError, "set credential value", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFoundf("credential %d not found", id)
	}
	return nil
}

// ClearValue removes the encrypted value, leaving the declared credential in
// place with HasValue = false.
func (s *Store) ClearValue(id int64) error {
	res, err := s.db.Exec(`UPDATE credentials SET encrypted_value = NULL WHERE id = ?`, id)
	if err != nil {
		return errs.Wrap(errs.StorageError, "clear credential value", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFoundf("credential %d not found", id)
	}
	return nil
}

// EncryptedValue returns the raw ciphertext column for the executor to hand
// to the vault for decryption at run time. It does not touch last_used_at;
// StampUsed does that separately.
func (s *Store) EncryptedValue(name string) (string, error) {
	var enc sql.NullString
	err := s.db.QueryRow(`SELECT encrypted_value FROM credentials WHERE name = ?`, name).Scan(&enc)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errs.NotFoundf("credential %q not found", name)
	}
	if err != nil {
		return "", errs.Wrap(errs.StorageError, "read credential value", err)
	}
	if !enc.Valid {
		return "", errs.New(errs.CredentialUnavailable, "credential "+name+" has no value set")
	}
	return enc.String, nil
}

// StampUsed updates last_used_at, called only after a credential is
// successfully resolved for a run (spec.md: "never stamp on failed lookup").
func (s *Store) StampUsed(name string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE credentials SET last_used_at = ? WHERE name = ?`, formatTime(at), name)
	if err != nil {
		return errs.Wrap(errs.StorageError, "stamp credential used", err)
	}
	return nil
}

// DeleteCredential removes a credential, refusing if any task still lists it.
func (s *Store) DeleteCredential(id int64) error {
	c, err := s.GetCredential(id)
	if err != nil {
		return err
	}
	inUse, err := s.GetTasksUsingCredential(c.Name)
	if err != nil {
		return err
	}
	if len(inUse) > 0 {
		return errs.Conflictf("credential %q is referenced by %d task(s)", c.Name, len(inUse))
	}
	res, err := s.db.Exec(`DELETE FROM credentials WHERE id = ?`, id)
	if err != nil {
		return errs.Wrap(errs.StorageError, "delete credential", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFoundf("credential %d not found", id)
	}
	return nil
}

func scanCredential(row rowScanner) (Credential, error) {
	var (
		c          Credential
		credType   string
		createdAt  string
		lastUsedAt sql.NullString
		encValue   sql.NullString
	)
	if err := row.Scan(&c.ID, &c.Name, &credType, &c.Description, &createdAt, &lastUsedAt, &encValue); err != nil {
		return Credential{}, err
	}
	c.Type = CredentialType(credType)
	c.CreatedAt = parseTime(createdAt)
	if lastUsedAt.Valid {
		v := parseTime(lastUsedAt.String)
		c.LastUsedAt = &v
	}
	c.HasValue = encValue.Valid && encValue.String != ""
	return c, nil
}
