package main

import (
	"fabtrack/internal/models"
	"fabtrack/internal/validation"
)

// Type aliases so handlers and tests use the unqualified names while the
// definitions live in internal/models.

type APIResponse = models.APIResponse
type Meta = models.Meta
type Stage = models.Stage
type RouteTemplate = models.RouteTemplate
type Part = models.Part
type LedgerEntry = models.LedgerEntry
type ResponsibleChange = models.ResponsibleChange
type PartNote = models.PartNote
type User = models.User
type Role = models.Role
type HistoryEvent = models.HistoryEvent
type ProductSummary = models.ProductSummary
type ImportResult = models.ImportResult

type ValidationErrors = validation.ValidationErrors
