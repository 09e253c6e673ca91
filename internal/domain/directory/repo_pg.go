package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/doctorbook/doctorbook/internal/platform/db"
)

// =========== User Repository ===========

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository { return &userRepoPG{pool: pool} }

const userCols = `id, email, username, full_name, password_hash, role, phone, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.FullName, &u.PasswordHash,
		&u.Role, &u.Phone, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	return &u, err
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO users (id, email, username, full_name, password_hash, role, phone, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		u.ID, u.Email, u.Username, u.FullName, u.PasswordHash, u.Role, u.Phone, u.IsActive,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	switch {
	case db.IsUniqueViolation(err, "users_email_key"):
		return ErrEmailTaken
	case db.IsUniqueViolation(err, "users_username_key"):
		return ErrUsernameTaken
	}
	return err
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *userRepoPG) GetByLogin(ctx context.Context, login string) (*User, error) {
	return scanUser(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE username = $1 OR lower(email) = lower($1) LIMIT 1`, login))
}

func (r *userRepoPG) List(ctx context.Context, role string, limit, offset int) ([]*User, int, error) {
	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE ($1 = '' OR role = $1)`, role).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+userCols+` FROM users WHERE ($1 = '' OR role = $1)
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, role, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, u)
	}
	return items, total, rows.Err()
}

// =========== Specialization Repository ===========

type specializationRepoPG struct{ pool *pgxpool.Pool }

func NewSpecializationRepoPG(pool *pgxpool.Pool) SpecializationRepository {
	return &specializationRepoPG{pool: pool}
}

const specCols = `id, name, description, icon, created_at`

func scanSpecialization(row pgx.Row) (*Specialization, error) {
	var s Specialization
	err := row.Scan(&s.ID, &s.Name, &s.Description, &s.Icon, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSpecializationNotFound
	}
	return &s, err
}

func (r *specializationRepoPG) Create(ctx context.Context, s *Specialization) error {
	s.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO specializations (id, name, description, icon)
		VALUES ($1,$2,$3,$4) RETURNING created_at`,
		s.ID, s.Name, s.Description, s.Icon).Scan(&s.CreatedAt)
	if db.IsUniqueViolation(err, "") {
		return ErrSpecializationExists
	}
	return err
}

func (r *specializationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Specialization, error) {
	return scanSpecialization(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+specCols+` FROM specializations WHERE id = $1`, id))
}

func (r *specializationRepoPG) List(ctx context.Context) ([]*Specialization, error) {
	return r.query(ctx, `SELECT `+specCols+` FROM specializations ORDER BY name`)
}

func (r *specializationRepoPG) SearchByName(ctx context.Context, fragment string) ([]*Specialization, error) {
	return r.query(ctx, `SELECT `+specCols+` FROM specializations WHERE name ILIKE $1 ORDER BY name`,
		db.LikePattern(fragment))
}

func (r *specializationRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Specialization, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Specialization
	for rows.Next() {
		s, err := scanSpecialization(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *specializationRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM specializations WHERE id = $1`, id)
	if db.IsForeignKeyViolation(err) {
		return ErrSpecializationInUse
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSpecializationNotFound
	}
	return nil
}

// =========== Doctor Repository ===========

type doctorRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository { return &doctorRepoPG{pool: pool} }

const profileSelect = `SELECT d.id, d.user_id, d.specialization_id, d.bio, d.qualification,
	d.experience_years, d.consultation_fee_cents, d.is_active, d.created_at, d.updated_at,
	u.full_name, u.email, u.phone, s.name
	FROM doctors d
	JOIN users u ON u.id = d.user_id
	JOIN specializations s ON s.id = d.specialization_id`

func scanProfile(row pgx.Row) (*DoctorProfile, error) {
	var p DoctorProfile
	err := row.Scan(&p.ID, &p.UserID, &p.SpecializationID, &p.Bio, &p.Qualification,
		&p.ExperienceYears, &p.ConsultationFeeCents, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
		&p.FullName, &p.Email, &p.Phone, &p.Specialization)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDoctorNotFound
	}
	return &p, err
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	d.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO doctors (id, user_id, specialization_id, bio, qualification,
			experience_years, consultation_fee_cents, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		d.ID, d.UserID, d.SpecializationID, d.Bio, d.Qualification,
		d.ExperienceYears, d.ConsultationFeeCents, d.IsActive,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if db.IsUniqueViolation(err, "doctors_user_id_key") {
		return ErrDoctorExists
	}
	if db.IsForeignKeyViolation(err) {
		return ErrSpecializationNotFound
	}
	return err
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*DoctorProfile, error) {
	return scanProfile(db.Conn(ctx, r.pool).QueryRow(ctx, profileSelect+` WHERE d.id = $1`, id))
}

func (r *doctorRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*DoctorProfile, error) {
	return scanProfile(db.Conn(ctx, r.pool).QueryRow(ctx, profileSelect+` WHERE d.user_id = $1`, userID))
}

func (r *doctorRepoPG) Update(ctx context.Context, d *Doctor) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE doctors SET specialization_id=$2, bio=$3, qualification=$4, experience_years=$5,
			consultation_fee_cents=$6, is_active=$7, updated_at=NOW()
		WHERE id = $1`,
		d.ID, d.SpecializationID, d.Bio, d.Qualification, d.ExperienceYears,
		d.ConsultationFeeCents, d.IsActive)
	if db.IsForeignKeyViolation(err) {
		return ErrSpecializationNotFound
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDoctorNotFound
	}
	return nil
}

func (r *doctorRepoPG) List(ctx context.Context, f DoctorFilter, limit, offset int) ([]*DoctorProfile, int, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.SpecializationID != nil {
		args = append(args, *f.SpecializationID)
		where = append(where, fmt.Sprintf("d.specialization_id = $%d", len(args)))
	}
	if f.NameContains != "" {
		args = append(args, db.LikePattern(f.NameContains))
		where = append(where, fmt.Sprintf("u.full_name ILIKE $%d", len(args)))
	}
	if f.ActiveOnly {
		where = append(where, "d.is_active")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	q := db.Conn(ctx, r.pool)
	var total int
	countSQL := `SELECT COUNT(*) FROM doctors d JOIN users u ON u.id = d.user_id` + clause
	if err := q.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := q.Query(ctx, profileSelect+clause+
		fmt.Sprintf(` ORDER BY u.full_name, d.id LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*DoctorProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
