package user

import "time"

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

type User struct {
	ID        int64
	Email     string
	Role      Role
	CreatedAt time.Time
}
