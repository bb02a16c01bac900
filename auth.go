package jackrabbit

// Credentials is what a caller presents at login. The zero value is an
// anonymous login.
type Credentials struct {
	User     string
	Password string
}

func Anonymous() Credentials { return Credentials{} }

const (
	anonymousUser = "anonymous"
	systemUser    = "system"
)

// authenticate resolves credentials to a user id under this policy.
func (o *SecurityOptions) authenticate(c Credentials) (string, error) {
	if c.User == "" {
		if o.AllowAnonymous {
			return anonymousUser, nil
		}
		return "", ErrAccessDenied
	}
	if len(o.Users) == 0 {
		return c.User, nil
	}
	pass, ok := o.Users[c.User]
	if !ok || pass != c.Password {
		return "", ErrAccessDenied
	}
	return c.User, nil
}
