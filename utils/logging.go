package utils

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Process-wide loggers. They are usable before InitLogging runs so that
// packages exercised from tests never hit a nil logger.
var (
	InfoLogger  = log.New(os.Stdout, "INFO: ", log.Ldate|log.Ltime)
	ErrorLogger = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime)
)

// InitLogging routes informational output to stdout and errors to stderr,
// and points the standard logger at stderr with the same layout.
func InitLogging() {
	InfoLogger = log.New(os.Stdout, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	ErrorLogger = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)

	log.SetOutput(os.Stderr)
	log.SetPrefix("SYSTEM: ")
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
}

// LogError logs err with a context label and optional key/value pairs.
// A nil err is ignored.
func LogError(context string, err error, metadata ...interface{}) {
	if err == nil {
		return
	}
	args := []interface{}{context, err}
	args = append(args, metadata...)
	ErrorLogger.Println(args...)
}

// LogInfo logs an informational message with optional key/value pairs.
func LogInfo(message string, metadata ...interface{}) {
	args := []interface{}{message}
	args = append(args, metadata...)
	InfoLogger.Println(args...)
}

// LogRequestError logs err together with the request ID, the authenticated
// user (if any) and the request line.
func LogRequestError(c *fiber.Ctx, context string, err error, metadata ...interface{}) {
	if err == nil {
		return
	}
	requestID, _ := c.Locals("request_id").(string)
	userID := "anonymous"
	if uid, ok := c.Locals("user_id").(uuid.UUID); ok {
		userID = uid.String()
	}

	args := []interface{}{
		"request_id", requestID,
		"user_id", userID,
		"method", c.Method(),
		"path", c.Path(),
		"ip", ClientIP(c),
		"context", context,
		"error", err,
	}
	args = append(args, metadata...)
	ErrorLogger.Println(args...)
}
