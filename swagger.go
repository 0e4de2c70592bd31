package main

import (
	"embed"
	"html/template"

	"github.com/gofiber/fiber/v2"
)

//go:embed docs/openapi.json
var openAPIFS embed.FS

var swaggerPage = template.Must(template.New("swagger").Parse(`<!doctype html>
<html>
  <head>
    <meta charset="utf-8"/>
    <title>authapi docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '{{.SpecURL}}',
        dom_id: '#swagger-ui',
        presets: [SwaggerUIBundle.presets.apis],
        layout: 'BaseLayout'
      });
    </script>
  </body>
</html>`))

func swaggerJSONHandler(c *fiber.Ctx) error {
	data, err := openAPIFS.ReadFile("docs/openapi.json")
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "openapi not found"})
	}
	c.Type("json")
	return c.Send(data)
}

func swaggerUIHandler(c *fiber.Ctx) error {
	c.Type("html")
	return swaggerPage.Execute(c, struct{ SpecURL string }{SpecURL: "/api/docs/openapi.json"})
}
