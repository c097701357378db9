// internal/app/system/mailer/templates.go
package mailer

import (
	"bytes"
	"fmt"
	"html/template"
)

// ConfirmationEmailData holds data for the address confirmation email.
type ConfirmationEmailData struct {
	SiteName  string
	Name      string
	Link      string
	ExpiresIn string // e.g. "24 часа"
}

// BuildConfirmationEmail creates the confirmation email with both bodies.
// The caller sets To.
func BuildConfirmationEmail(data ConfirmationEmailData) Email {
	return Email{
		Subject:  fmt.Sprintf("Подтверждение email на %s", data.SiteName),
		TextBody: buildConfirmationText(data),
		HTMLBody: buildConfirmationHTML(data),
	}
}

func buildConfirmationText(data ConfirmationEmailData) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Здравствуйте, %s!\n\n", data.Name)
	fmt.Fprintf(&buf, "Чтобы завершить регистрацию на %s, подтвердите email по ссылке:\n", data.SiteName)
	buf.WriteString(data.Link + "\n\n")
	fmt.Fprintf(&buf, "Ссылка действует %s.\n\n", data.ExpiresIn)
	buf.WriteString("Если вы не регистрировались, просто проигнорируйте это письмо.\n")
	return buf.String()
}

var confirmationTmpl = template.Must(template.New("confirmation").Parse(confirmationHTMLTemplate))

func buildConfirmationHTML(data ConfirmationEmailData) string {
	var buf bytes.Buffer
	_ = confirmationTmpl.Execute(&buf, data)
	return buf.String()
}

const confirmationHTMLTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Подтверждение email</title>
</head>
<body style="margin: 0; padding: 0; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; background-color: #f3f4f6;">
  <table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="background-color: #f3f4f6;">
    <tr>
      <td align="center" style="padding: 40px 20px;">
        <table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="max-width: 480px; background-color: #ffffff; border-radius: 8px;">
          <tr>
            <td style="padding: 32px 32px 24px; text-align: center; border-bottom: 1px solid #e5e7eb;">
              <h1 style="margin: 0; font-size: 24px; font-weight: 600; color: #4f46e5;">{{.SiteName}}</h1>
            </td>
          </tr>
          <tr>
            <td style="padding: 32px;">
              <p style="margin: 0 0 16px; font-size: 16px; color: #374151;">Здравствуйте, {{.Name}}!</p>
              <p style="margin: 0 0 24px; font-size: 16px; color: #374151; line-height: 1.5;">
                Чтобы завершить регистрацию, подтвердите адрес электронной почты.
              </p>
              <table role="presentation" width="100%" cellspacing="0" cellpadding="0">
                <tr>
                  <td align="center">
                    <a href="{{.Link}}" style="display: inline-block; padding: 12px 32px; background-color: #4f46e5; color: #ffffff; text-decoration: none; font-weight: 600; border-radius: 6px;">Подтвердить email</a>
                  </td>
                </tr>
              </table>
              <p style="margin: 24px 0 0; font-size: 14px; color: #6b7280; text-align: center;">
                Ссылка действует {{.ExpiresIn}}.
              </p>
            </td>
          </tr>
          <tr>
            <td style="padding: 24px 32px; background-color: #f9fafb; border-top: 1px solid #e5e7eb; border-radius: 0 0 8px 8px;">
              <p style="margin: 0; font-size: 12px; color: #9ca3af; text-align: center;">
                Если вы не регистрировались, просто проигнорируйте это письмо.
              </p>
            </td>
          </tr>
        </table>
      </td>
    </tr>
  </table>
</body>
</html>`
