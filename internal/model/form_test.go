package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPasswordToSave(t *testing.T) {
	tests := []struct {
		name string
		form ObservedForm
		want string
	}{
		{
			name: "plain password",
			form: ObservedForm{PasswordElement: "Passwd", PasswordValue: "old"},
			want: "old",
		},
		{
			name: "populated new password wins",
			form: ObservedForm{
				PasswordElement: "Passwd", PasswordValue: "old",
				NewPasswordElement: "NewPasswd", NewPasswordValue: "new",
			},
			want: "new",
		},
		{
			name: "empty new password falls back",
			form: ObservedForm{
				PasswordElement: "Passwd", PasswordValue: "old",
				NewPasswordElement: "NewPasswd",
			},
			want: "old",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.form.PasswordToSave())
		})
	}
}

func TestLooksLikePasswordUpdate(t *testing.T) {
	assert.True(t, (&ObservedForm{IsChangePasswordForm: true, UsernameElement: "Email"}).LooksLikePasswordUpdate())
	assert.True(t, (&ObservedForm{}).LooksLikePasswordUpdate())
	assert.False(t, (&ObservedForm{UsernameElement: "Email"}).LooksLikePasswordUpdate())
}

func TestOriginURL(t *testing.T) {
	assert.NotNil(t, (&ObservedForm{Origin: "https://www.example.com/login"}).OriginURL())
	assert.Nil(t, (&ObservedForm{Origin: "not a url"}).OriginURL())
	assert.Nil(t, (&ObservedForm{}).OriginURL())
}
