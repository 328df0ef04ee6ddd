// Package main is the entry point for docstream.
//
//	@title						docstream
//	@version					1.0
//	@description				Document service that streams large result sets as JSON arrays.
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@securityDefinitions.apikey	ApiKeyAuth
//	@in							header
//	@name						X-API-Key
//	@description				API key for authentication
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication (format: "Bearer {api_key}")
package main

func main() {
	Execute()
}
