package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const accountColumns = `
	a.id, a.username, a.email, a.full_name, a.password_hash, a.role, a.personal_info,
	a.organization_id, a.organization_type, a.organization_name, a.designation,
	a.department, a.employee_id, a.joining_date, a.permissions,
	a.donor_id, a.registration_status, a.registration_date,
	a.is_active, a.is_verified, a.email_verified, a.phone_verified,
	a.last_login, a.login_attempts, a.lock_until, a.refresh_token_hash,
	a.preferences, a.created_at, a.updated_at,
	o.name, o.type`

const accountFrom = `
	FROM accounts a
	LEFT JOIN organizations o ON o.id = a.organization_id`

// Repository is the Postgres Store.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

type CleanupResult struct {
	DeletedIPLimits int64 `json:"deleted_ip_limits"`
	DeletedAPIKeys  int64 `json:"deleted_api_keys"`
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
	var (
		account          Account
		personalInfo     []byte
		organizationID   sql.NullString
		organizationType sql.NullString
		organizationName sql.NullString
		designation      sql.NullString
		department       sql.NullString
		employeeID       sql.NullString
		joiningDate      sql.NullTime
		permissions      []byte
		donorID          sql.NullString
		registration     sql.NullString
		registrationDate sql.NullTime
		lastLogin        sql.NullTime
		lockUntil        sql.NullTime
		refreshHash      sql.NullString
		preferences      []byte
		orgName          sql.NullString
		orgType          sql.NullString
	)

	err := row.Scan(
		&account.ID, &account.Username, &account.Email, &account.FullName, &account.PasswordHash, &account.Role, &personalInfo,
		&organizationID, &organizationType, &organizationName, &designation,
		&department, &employeeID, &joiningDate, &permissions,
		&donorID, &registration, &registrationDate,
		&account.AccountStatus.IsActive, &account.AccountStatus.IsVerified, &account.AccountStatus.EmailVerified, &account.AccountStatus.PhoneVerified,
		&lastLogin, &account.AccountStatus.LoginAttempts, &lockUntil, &refreshHash,
		&preferences, &account.CreatedAt, &account.UpdatedAt,
		&orgName, &orgType,
	)
	if err != nil {
		return Account{}, err
	}

	if len(personalInfo) > 0 {
		if err := json.Unmarshal(personalInfo, &account.PersonalInfo); err != nil {
			return Account{}, fmt.Errorf("decode personal info: %w", err)
		}
	}
	account.Preferences = DefaultPreferences()
	if len(preferences) > 0 {
		if err := json.Unmarshal(preferences, &account.Preferences); err != nil {
			return Account{}, fmt.Errorf("decode preferences: %w", err)
		}
	}

	if organizationType.Valid {
		info := &OrganizationInfo{
			OrganizationID:   organizationID.String,
			OrganizationType: OrganizationType(organizationType.String),
			OrganizationName: organizationName.String,
			Designation:      designation.String,
			Department:       department.String,
			EmployeeID:       employeeID.String,
			JoiningDate:      timePtr(joiningDate),
		}
		if len(permissions) > 0 {
			if err := json.Unmarshal(permissions, &info.Permissions); err != nil {
				return Account{}, fmt.Errorf("decode permissions: %w", err)
			}
		}
		if orgName.Valid {
			info.Organization = &OrganizationRef{
				ID:   organizationID.String,
				Name: orgName.String,
				Type: OrganizationType(orgType.String),
			}
		}
		account.OrganizationInfo = info
	}

	if registration.Valid {
		account.DonorProfile = &DonorProfile{
			DonorID:            donorID.String,
			RegistrationStatus: RegistrationStatus(registration.String),
			RegistrationDate:   timePtr(registrationDate),
		}
	}

	account.AccountStatus.LastLogin = timePtr(lastLogin)
	account.AccountStatus.LockUntil = timePtr(lockUntil)
	account.RefreshTokenHash = refreshHash.String

	return account, nil
}

func (r *Repository) CreateAccount(ctx context.Context, account Account) (Account, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Account{}, fmt.Errorf("generate uuid v7: %w", err)
	}
	account.ID = id.String()

	now := r.now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	personalInfo, err := json.Marshal(account.PersonalInfo)
	if err != nil {
		return Account{}, fmt.Errorf("encode personal info: %w", err)
	}
	preferences, err := json.Marshal(account.Preferences)
	if err != nil {
		return Account{}, fmt.Errorf("encode preferences: %w", err)
	}

	var (
		organizationID, organizationType, organizationName any
		designation, department, employeeID, joiningDate   any
		registration, registrationDate                     any
		permissions                                        = []byte("[]")
	)
	if info := account.OrganizationInfo; info != nil {
		organizationID = nullString(info.OrganizationID)
		organizationType = string(info.OrganizationType)
		organizationName = info.OrganizationName
		designation = info.Designation
		department = info.Department
		employeeID = info.EmployeeID
		joiningDate = nullTime(info.JoiningDate)
		if permissions, err = json.Marshal(info.Permissions); err != nil {
			return Account{}, fmt.Errorf("encode permissions: %w", err)
		}
	}
	if profile := account.DonorProfile; profile != nil {
		registration = string(profile.RegistrationStatus)
		registrationDate = nullTime(profile.RegistrationDate)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, username, email, full_name, password_hash, role, personal_info,
			organization_id, organization_type, organization_name, designation,
			department, employee_id, joining_date, permissions,
			registration_status, registration_date,
			is_active, is_verified, email_verified, phone_verified,
			preferences, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $23)
	`,
		account.ID, account.Username, account.Email, account.FullName, account.PasswordHash, string(account.Role), personalInfo,
		organizationID, organizationType, organizationName, designation,
		department, employeeID, joiningDate, permissions,
		registration, registrationDate,
		account.AccountStatus.IsActive, account.AccountStatus.IsVerified, account.AccountStatus.EmailVerified, account.AccountStatus.PhoneVerified,
		preferences, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Account{}, ErrDuplicateAccount
		}
		return Account{}, fmt.Errorf("insert account: %w", err)
	}

	return r.FindByID(ctx, account.ID)
}

func (r *Repository) FindByID(ctx context.Context, id string) (Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Account{}, ErrAccountNotFound
	}
	return r.findOne(ctx, "a.id = $1", id)
}

// FindByLogin matches login against the username or the email.
func (r *Repository) FindByLogin(ctx context.Context, login string) (Account, error) {
	return r.findOne(ctx, "(a.username = $1 OR a.email = $1)", strings.ToLower(strings.TrimSpace(login)))
}

func (r *Repository) FindByEmail(ctx context.Context, email string) (Account, error) {
	return r.findOne(ctx, "a.email = $1", strings.ToLower(strings.TrimSpace(email)))
}

func (r *Repository) findOne(ctx context.Context, where string, arg any) (Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+accountFrom+` WHERE `+where, arg)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("query account: %w", err)
	}
	return account, nil
}

// SaveProfile writes the editable parts of an account: name, email,
// personal info, preferences and organization details.
func (r *Repository) SaveProfile(ctx context.Context, account Account) (Account, error) {
	personalInfo, err := json.Marshal(account.PersonalInfo)
	if err != nil {
		return Account{}, fmt.Errorf("encode personal info: %w", err)
	}
	preferences, err := json.Marshal(account.Preferences)
	if err != nil {
		return Account{}, fmt.Errorf("encode preferences: %w", err)
	}

	var designation, department any
	permissions := []byte("[]")
	if info := account.OrganizationInfo; info != nil {
		designation = info.Designation
		department = info.Department
		if permissions, err = json.Marshal(info.Permissions); err != nil {
			return Account{}, fmt.Errorf("encode permissions: %w", err)
		}
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET full_name = $2, email = $3, personal_info = $4, preferences = $5,
			designation = COALESCE($6, designation),
			department = COALESCE($7, department),
			permissions = $8,
			updated_at = $9
		WHERE id = $1
	`, account.ID, account.FullName, account.Email, personalInfo, preferences, designation, department, permissions, r.now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return Account{}, ErrDuplicateAccount
		}
		return Account{}, fmt.Errorf("update account profile: %w", err)
	}
	if err := expectAffected(res, ErrAccountNotFound); err != nil {
		return Account{}, err
	}

	return r.FindByID(ctx, account.ID)
}

func (r *Repository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET password_hash = $2, updated_at = $3
		WHERE id = $1
	`, id, passwordHash, r.now().UTC())
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return expectAffected(res, ErrAccountNotFound)
}

func (r *Repository) ToggleActive(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, ErrAccountNotFound
	}

	var active bool
	err := r.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET is_active = NOT is_active, updated_at = $2
		WHERE id = $1
		RETURNING is_active
	`, id, r.now().UTC()).Scan(&active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrAccountNotFound
		}
		return false, fmt.Errorf("toggle account status: %w", err)
	}
	return active, nil
}

func (r *Repository) RegisterFailedAttempt(ctx context.Context, id string, policy LockoutPolicy, now time.Time) (LoginState, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return LoginState{}, fmt.Errorf("begin login attempt tx: %w", err)
	}
	defer tx.Rollback()

	var state LoginState
	var lockUntil sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT login_attempts, lock_until
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&state.Attempts, &lockUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LoginState{}, ErrAccountNotFound
		}
		return LoginState{}, fmt.Errorf("lock account login row: %w", err)
	}
	state.LockUntil = timePtr(lockUntil)

	next := policy.NextFailure(state, now.UTC())

	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET login_attempts = $2, lock_until = $3, updated_at = $4
		WHERE id = $1
	`, id, next.Attempts, nullTime(next.LockUntil), now.UTC()); err != nil {
		return LoginState{}, fmt.Errorf("update login attempts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return LoginState{}, fmt.Errorf("commit login attempt tx: %w", err)
	}

	return next, nil
}

func (r *Repository) ResetLoginAttempts(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET login_attempts = 0, lock_until = NULL
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("reset login attempts: %w", err)
	}
	return nil
}

func (r *Repository) SaveSession(ctx context.Context, id, refreshHash string, lastLogin time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET refresh_token_hash = $2, last_login = $3
		WHERE id = $1
	`, id, refreshHash, lastLogin.UTC())
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return expectAffected(res, ErrAccountNotFound)
}

func (r *Repository) RotateSession(ctx context.Context, id, oldHash, newHash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET refresh_token_hash = $3
		WHERE id = $1 AND refresh_token_hash = $2
	`, id, oldHash, newHash)
	if err != nil {
		return fmt.Errorf("rotate session: %w", err)
	}
	return expectAffected(res, ErrStaleSession)
}

func (r *Repository) ClearSession(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET refresh_token_hash = NULL
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func (r *Repository) ListAccounts(ctx context.Context, filter ListFilter) ([]Account, int, error) {
	conditions := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if filter.Role != "" {
		args = append(args, string(filter.Role))
		conditions = append(conditions, fmt.Sprintf("a.role = $%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		conditions = append(conditions, fmt.Sprintf("a.is_active = $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts a`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count accounts: %w", err)
	}

	args = append(args, filter.Limit, (filter.Page-1)*filter.Limit)
	query := fmt.Sprintf(`SELECT %s %s %s ORDER BY a.created_at DESC LIMIT $%d OFFSET $%d`,
		accountColumns, accountFrom, where, len(args)-1, len(args))

	accounts, err := r.queryAccounts(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return accounts, total, nil
}

func (r *Repository) ListByOrganization(ctx context.Context, organizationID string) ([]Account, error) {
	return r.queryAccounts(ctx, `SELECT `+accountColumns+accountFrom+`
		WHERE a.organization_id = $1
		ORDER BY a.created_at ASC`, organizationID)
}

func (r *Repository) queryAccounts(ctx context.Context, query string, args ...any) ([]Account, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}

	return accounts, nil
}

func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE is_active),
			COUNT(*) FILTER (WHERE role = 'donor'),
			COUNT(*) FILTER (WHERE role = 'hospital_admin'),
			COUNT(*) FILTER (WHERE role = 'blood_bank_admin')
		FROM accounts
	`).Scan(&stats.TotalUsers, &stats.ActiveUsers, &stats.Donors, &stats.Hospitals, &stats.BloodBanks)
	if err != nil {
		return Stats{}, fmt.Errorf("query account stats: %w", err)
	}
	return stats, nil
}

func (r *Repository) CreateAPIKey(ctx context.Context, key APIKey) (APIKey, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return APIKey{}, fmt.Errorf("generate uuid v7: %w", err)
	}
	key.ID = id.String()
	key.CreatedAt = r.now().UTC()
	key.IsActive = true

	permissions, err := json.Marshal(key.Permissions)
	if err != nil {
		return APIKey{}, fmt.Errorf("encode api key permissions: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO account_api_keys (id, account_id, name, key_value, permissions, created_at, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
	`, key.ID, key.AccountID, key.Name, key.Key, permissions, key.CreatedAt, nullTime(key.ExpiresAt))
	if err != nil {
		return APIKey{}, fmt.Errorf("insert api key: %w", err)
	}

	return key, nil
}

func (r *Repository) ListAPIKeys(ctx context.Context, accountID string) ([]APIKey, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, name, key_value, permissions, created_at, expires_at, is_active
		FROM account_api_keys
		WHERE account_id = $1
		ORDER BY created_at ASC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query api keys: %w", err)
	}
	defer rows.Close()

	keys := make([]APIKey, 0)
	for rows.Next() {
		var key APIKey
		var permissions []byte
		var expiresAt sql.NullTime
		if err := rows.Scan(&key.ID, &key.AccountID, &key.Name, &key.Key, &permissions, &key.CreatedAt, &expiresAt, &key.IsActive); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		if err := json.Unmarshal(permissions, &key.Permissions); err != nil {
			return nil, fmt.Errorf("decode api key permissions: %w", err)
		}
		key.ExpiresAt = timePtr(expiresAt)
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api keys: %w", err)
	}

	return keys, nil
}

func (r *Repository) DeactivateAPIKey(ctx context.Context, accountID, keyID string) error {
	if _, err := uuid.Parse(keyID); err != nil {
		return ErrAPIKeyNotFound
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE account_api_keys
		SET is_active = FALSE
		WHERE id = $1 AND account_id = $2
	`, keyID, accountID)
	if err != nil {
		return fmt.Errorf("deactivate api key: %w", err)
	}
	return expectAffected(res, ErrAPIKeyNotFound)
}

// CleanupStaleAuthData prunes login rate-limit windows older than
// ipRetention and API keys that expired or were deactivated more than
// keyRetention ago, at most batchSize rows per table.
func (r *Repository) CleanupStaleAuthData(ctx context.Context, ipRetention, keyRetention time.Duration, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if ipRetention <= 0 {
		ipRetention = 24 * time.Hour
	}
	if keyRetention <= 0 {
		keyRetention = 30 * 24 * time.Hour
	}

	now := r.now().UTC()

	deletedIPLimits, err := r.deleteStaleIPLimits(ctx, now.Add(-ipRetention), batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	deletedAPIKeys, err := r.deleteStaleAPIKeys(ctx, now, now.Add(-keyRetention), batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	return CleanupResult{
		DeletedIPLimits: deletedIPLimits,
		DeletedAPIKeys:  deletedAPIKeys,
	}, nil
}

func (r *Repository) deleteStaleIPLimits(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT ip
			FROM auth_login_ip_limits
			WHERE updated_at < $1
			ORDER BY updated_at ASC
			LIMIT $2
		)
		DELETE FROM auth_login_ip_limits t
		USING stale
		WHERE t.ip = stale.ip
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale login ip limits: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale login ip limits rows affected: %w", err)
	}
	return affected, nil
}

func (r *Repository) deleteStaleAPIKeys(ctx context.Context, now, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM account_api_keys
			WHERE (expires_at IS NOT NULL AND expires_at < $1)
			   OR (is_active = FALSE AND created_at < $2)
			ORDER BY created_at ASC
			LIMIT $3
		)
		DELETE FROM account_api_keys k
		USING stale
		WHERE k.id = stale.id
	`, now, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale api keys: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale api keys rows affected: %w", err)
	}
	return affected, nil
}

func expectAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}

func nullTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC()
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
