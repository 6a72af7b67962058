// Package docs provides generated OpenAPI documentation.
//
// Meishi API
//
//	@title			Meishi API
//	@version		1.0
//	@description	Business card extraction API for processing card photos into FileMaker records.
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	API Support
//	@contact.url	https://github.com/meishi-bot/meishi
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/meishi/serve.go -o ./swagger --parseDependency --parseInternal
