package model

import "errors"

// Доменные ошибки ядра. Сервисы оборачивают их через fmt.Errorf("...: %w", err),
// вызывающий слой проверяет errors.Is.
var (
	// ErrNotFound сущность с таким ID не существует
	ErrNotFound = errors.New("not found")

	// ErrConflict слот на это время у учителя уже объявлен
	ErrConflict = errors.New("already exists")

	// ErrNotAvailable слот или урок не в том статусе для операции
	ErrNotAvailable = errors.New("not available")

	// ErrNotBookable групповой урок заполнен или не открыт для записи
	ErrNotBookable = errors.New("not bookable")

	// ErrAlreadyRegistered активная запись студента на этот урок уже есть
	ErrAlreadyRegistered = errors.New("already registered")

	// ErrInsufficientCredits суммарного остатка по пакетам студента не хватает
	ErrInsufficientCredits = errors.New("insufficient lesson credits")
)
