package service

import "errors"

var (
	// ErrExpenseNotFound is returned when the expense id resolves to nothing
	ErrExpenseNotFound = errors.New("expense not found")

	// ErrUserNotFound is returned when the acting or target user does not exist
	ErrUserNotFound = errors.New("user not found")

	// ErrCompanyNotFound is returned when the company does not exist
	ErrCompanyNotFound = errors.New("company not found")

	// ErrNotOwner is returned when someone other than the submitting
	// employee tries to cancel an expense
	ErrNotOwner = errors.New("expense belongs to another employee")

	// ErrNotAdmin is returned when a non-admin attempts an override
	ErrNotAdmin = errors.New("override requires an admin of the company")

	// ErrInvalidExpense is returned when submission input fails validation
	ErrInvalidExpense = errors.New("invalid expense")

	// ErrInvalidRule is returned when rule input fails validation
	ErrInvalidRule = errors.New("invalid approval rule")

	// ErrRuleNotFound is returned when the rule id resolves to nothing
	ErrRuleNotFound = errors.New("approval rule not found")
)
