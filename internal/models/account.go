package models

// Account is the credential record owned by the personnel store.
// Only PasswordHash and PasswordSalt are ever written from this service.
type Account struct {
	ID           string
	Username     string
	Email        string
	DisplayName  string
	PasswordHash *string // nil until the account has been provisioned with a password
	PasswordSalt *string // nil for legacy credentials hashed with the shared salt
	IsActive     bool
	Roles        []string
}

// IsLegacyCredential reports whether the stored hash still uses the shared salt
func (a *Account) IsLegacyCredential() bool {
	return a.PasswordSalt == nil || *a.PasswordSalt == ""
}

// HasPassword reports whether a password hash has been set
func (a *Account) HasPassword() bool {
	return a.PasswordHash != nil && *a.PasswordHash != ""
}

// AccountResponse is an account with every password field stripped
type AccountResponse struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	Email       string   `json:"email,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
	IsActive    bool     `json:"is_active"`
	Roles       []string `json:"roles"`
}

// ToResponse strips password fields
func (a *Account) ToResponse() *AccountResponse {
	roles := make([]string, len(a.Roles))
	copy(roles, a.Roles)
	return &AccountResponse{
		ID:          a.ID,
		Username:    a.Username,
		Email:       a.Email,
		DisplayName: a.DisplayName,
		IsActive:    a.IsActive,
		Roles:       roles,
	}
}
