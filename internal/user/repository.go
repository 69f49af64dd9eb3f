package user

import "gorm.io/gorm"

type Repository interface {
	FindByID(id string) (*User, error)
	FindByMobile(mobile string) (*User, error)
	CreateUser(user *User) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindByID(id string) (*User, error) {
	var user User
	err := r.db.Where("id = ?", id).First(&user).Error
	return &user, err
}

func (r *repository) FindByMobile(mobile string) (*User, error) {
	var user User
	err := r.db.Where("mobile = ?", mobile).First(&user).Error
	return &user, err
}

func (r *repository) CreateUser(user *User) error {
	return r.db.Create(user).Error
}
