package maze

import (
	"bytes"
	"fmt"
	"html/template"
	"math/rand/v2"
)

var pageTemplate = template.Must(template.New("maze").Parse(`<!DOCTYPE html>
<html>
  <head>
    <title>{{.Item.Title}} - Pest Control Equipment</title>
    <meta name="description" content="{{.Item.Description}}">
  </head>
  <body style="margin: 0; padding: 20px; background: #f7fafc; font-family: Arial, sans-serif;">
    <div style="max-width: 1200px; margin: 0 auto;">
      <nav style="background: #2d3748; color: white; padding: 15px; border-radius: 5px; margin-bottom: 20px;">
        <a href="/" style="color: white; text-decoration: none; margin-right: 20px; font-weight: bold;">Home</a>
        <a href="/products" style="color: #cbd5e0; text-decoration: none; margin-right: 20px;">Products</a>
        <a href="/category/rodent-control" style="color: #cbd5e0; text-decoration: none; margin-right: 20px;">Rodent Control</a>
        <span style="float: right; color: #cbd5e0;">Page {{.Level}} of Inventory Database</span>
      </nav>
      <div style="max-width: 800px; margin: 20px auto; padding: 20px; background: #f9f9f9; border: 1px solid #ddd; border-radius: 8px;">
        <h2 style="color: #333; border-bottom: 2px solid #4a5568; padding-bottom: 10px;">{{.Item.Title}} - Model {{.Item.Model}}</h2>
        <div style="display: inline-block; background: #48bb78; color: white; padding: 5px 15px; border-radius: 20px; font-weight: bold; margin-bottom: 15px;">
          ${{.Item.Price}} | &#11088; {{.Item.Rating}} ({{.Item.ReviewCount}} reviews) | Stock: {{.Item.Stock}} units
        </div>
        <div style="background: white; padding: 15px; border-radius: 5px; margin: 15px 0;">
          <h3 style="color: #2d3748; margin-top: 0;">Product Description</h3>
          <p style="color: #4a5568; line-height: 1.6;">{{.Item.Description}}</p>
        </div>
        <div style="background: white; padding: 15px; border-radius: 5px; margin: 15px 0;">
          <h3 style="color: #2d3748; margin-top: 0;">Key Features</h3>
          <ul style="color: #4a5568; line-height: 1.8;">
            {{- range .Item.Features}}
            <li>{{.}}</li>
            {{- end}}
          </ul>
        </div>
        <div style="background: #e6fffa; padding: 15px; border-left: 4px solid #38b2ac; margin: 15px 0; border-radius: 5px;">
          <h3 style="color: #2d3748; margin-top: 0;">Customer Review</h3>
          <p style="color: #2d3748; font-style: italic; margin: 0;">"{{.Item.Quote}}"</p>
          <p style="color: #718096; font-size: 0.9em; margin-top: 5px;">- Verified Purchase, {{.VerifiedDaysAgo}} days ago</p>
        </div>
      </div>
      <div style="background: white; padding: 20px; border-radius: 8px; margin-top: 30px; border: 1px solid #ddd;">
        <h3 style="color: #2d3748; margin-top: 0; border-bottom: 2px solid #e2e8f0; padding-bottom: 10px;">Related Products</h3>
        <ul style="list-style: none; padding: 0; color: #4a5568;">
          {{- range .Links}}
          <li style="margin: 8px 0;"><a href="{{.Href}}" style="color: #3182ce; text-decoration: none;">{{.Text}}</a> - <span style="color: #718096; font-size: 0.9em;">Similar Product</span></li>
          {{- end}}
        </ul>
      </div>
    </div>
  </body>
</html>
`))

var rateLimitedTemplate = template.Must(template.New("rate-limited").Parse(`<!DOCTYPE html>
<html>
  <head><title>Rate Limit Exceeded</title></head>
  <body style="font-family: Arial, sans-serif; text-align: center; padding: 50px;">
    <h1>429 - Too Many Requests</h1>
    <p>You are making requests too quickly. Please slow down.</p>
    <p style="color: #666; font-size: 0.9em;">Connection dropped to protect server resources.</p>
  </body>
</html>
`))

var depthExceededTemplate = template.Must(template.New("depth-exceeded").Parse(`<!DOCTYPE html>
<html>
  <head><title>Maze Limit Reached</title></head>
  <body style="font-family: Arial, sans-serif; text-align: center; padding: 50px; background: #f7fafc;">
    <div style="max-width: 600px; margin: 0 auto; background: white; padding: 40px; border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1);">
      <h1 style="color: #e53e3e;">Maze Limit Reached</h1>
      <p style="color: #4a5568; font-size: 1.1em; margin: 20px 0;">You have reached the maximum depth of {{.MaxLevels}} levels in the maze.</p>
      <p style="color: #718096; font-size: 0.9em;">Maximum level reached: {{.MaxLevel}}<br>Total visits: {{.Visits}}</p>
      <div style="margin-top: 30px; padding: 20px; background: #fed7d7; border-left: 4px solid #e53e3e; border-radius: 4px;">
        <p style="color: #742a2a; margin: 0;"><strong>Connection dropped</strong> to protect server resources from excessive requests.</p>
      </div>
    </div>
  </body>
</html>
`))

// Render generates and renders a maze page for level.
func Render(level int, rng *rand.Rand) ([]byte, error) {
	return RenderPage(Generate(level, rng))
}

// RenderPage renders an already generated page.
func RenderPage(page Page) ([]byte, error) {
	return execute(pageTemplate, page)
}

// RenderRateLimited renders the 429 page shown when the rate gate rejects a request.
func RenderRateLimited() ([]byte, error) {
	return execute(rateLimitedTemplate, nil)
}

// RenderDepthExceeded renders the 429 page shown once a client exceeds the depth cap.
func RenderDepthExceeded(maxLevels, maxLevel, visits int) ([]byte, error) {
	return execute(depthExceededTemplate, struct {
		MaxLevels int
		MaxLevel  int
		Visits    int
	}{maxLevels, maxLevel, visits})
}

func execute(tmpl *template.Template, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	return buf.Bytes(), nil
}
