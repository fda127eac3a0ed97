package config

import zxcvbn "github.com/ccojocar/zxcvbn-go"

const weakTokenScoreThreshold = 3

// IsWeakAdminToken reports whether the admin API token is too weak to
// protect the vanguard admin surface. An empty token disables auth
// entirely, so it is not judged here.
func IsWeakAdminToken(token string) bool {
	if token == "" {
		return false
	}
	result := zxcvbn.PasswordStrength(token, nil)
	return result.Score < weakTokenScoreThreshold
}
