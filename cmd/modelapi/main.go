// Package main is the entry point for modelapi.
//
//	@title			modelapi
//	@version		1.0
//	@description	REST resources generated from model descriptions.
//	@BasePath		/
package main

func main() {
	Execute()
}
