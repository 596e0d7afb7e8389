package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// OKMessage sends a 200 JSON response with data and a human-readable message.
func OKMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data, Message: message})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, message string) {
	fail(c, http.StatusBadRequest, message)
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, message string) {
	fail(c, http.StatusUnauthorized, message)
}

// Forbidden sends 403.
func Forbidden(c *gin.Context, message string) {
	fail(c, http.StatusForbidden, message)
}

// NotFound sends 404.
func NotFound(c *gin.Context, message string) {
	fail(c, http.StatusNotFound, message)
}

// Conflict sends 409.
func Conflict(c *gin.Context, message string) {
	fail(c, http.StatusConflict, message)
}

// Internal sends 500.
func Internal(c *gin.Context, message string) {
	fail(c, http.StatusInternalServerError, message)
}

// Failures carry the text in both fields; clients read message first.
func fail(c *gin.Context, status int, message string) {
	c.JSON(status, Body{Success: false, Message: message, Error: message})
}
