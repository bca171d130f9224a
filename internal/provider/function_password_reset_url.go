package provider

import (
	"context"

	"github.com/hashicorp/terraform-plugin-framework/function"

	"github.com/isometry/terraform-provider-ldapauth/internal/auth"
)

var _ function.Function = &PasswordResetURLFunction{}

func NewPasswordResetURLFunction() function.Function {
	return &PasswordResetURLFunction{}
}

// PasswordResetURLFunction implements the password_reset_url function.
type PasswordResetURLFunction struct{}

func (f PasswordResetURLFunction) Metadata(_ context.Context, req function.MetadataRequest, resp *function.MetadataResponse) {
	resp.Name = "password_reset_url"
}

func (f PasswordResetURLFunction) Definition(_ context.Context, req function.DefinitionRequest, resp *function.DefinitionResponse) {
	resp.Definition = function.Definition{
		Summary:     "Build a password reset link",
		Description: "Replaces $userId and $userName, in any letter case, in a URL template. Values are query-escaped.",
		MarkdownDescription: "Replaces `$userId` and `$userName`, in any letter case, in a URL template.\n\n" +
			"Values are query-escaped, so `alice smith` becomes `alice+smith`.",
		Parameters: []function.Parameter{
			function.StringParameter{
				Name:                "template",
				MarkdownDescription: "URL template, e.g. `https://id.example.org/reset?user=$userName`.",
			},
			function.StringParameter{
				Name:                "user_id",
				MarkdownDescription: "Local user record ID substituted for `$userId`.",
			},
			function.StringParameter{
				Name:                "username",
				MarkdownDescription: "Username substituted for `$userName`.",
			},
		},
		Return: function.StringReturn{},
	}
}

func (f PasswordResetURLFunction) Run(ctx context.Context, req function.RunRequest, resp *function.RunResponse) {
	var template, userID, username string

	resp.Error = function.ConcatFuncErrors(resp.Error, req.Arguments.Get(ctx, &template, &userID, &username))
	if resp.Error != nil {
		return
	}

	link, err := auth.ResetURL(template, userID, username)
	if err != nil {
		resp.Error = function.NewArgumentFuncError(0, err.Error())
		return
	}

	resp.Error = function.ConcatFuncErrors(resp.Error, resp.Result.Set(ctx, link))
}
