// Package directory 用户和继承人目录，由其他服务维护，这里只读
package directory

import (
	"context"
)

// Contact 通知收件地址
type Contact struct {
	Email    string
	Phone    string
	FullName string
}

// Beneficiary 已验证的继承人
type Beneficiary struct {
	Contact
	ID int64
}

// UserDirectory 用户目录
type UserDirectory interface {
	Exists(ctx context.Context, userID int64) (bool, error)
	Contact(ctx context.Context, userID int64) (Contact, error)
}

// BeneficiaryDirectory 继承人目录，只返回已验证且未删除的
type BeneficiaryDirectory interface {
	ListVerified(ctx context.Context, userID int64) ([]Beneficiary, error)
}
