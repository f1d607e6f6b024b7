package utils

import (
	"net/mail"
	"regexp"
	"strings"
)

var (
	cnMobilePattern = regexp.MustCompile(`^1[3-9]\d{9}$`)
	e164Pattern     = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)
)

// ValidatePhone 接受国内手机号或 E.164 格式
func ValidatePhone(phone string) bool {
	return cnMobilePattern.MatchString(phone) || e164Pattern.MatchString(phone)
}

// ValidateEmail 只接受裸地址，不接受 "Name <addr>" 形式
func ValidateEmail(email string) bool {
	if email == "" || strings.ContainsAny(email, " <>") {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
