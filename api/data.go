package main

import "time"

type todo struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
	Owner     string    `json:"owner"`
}

// todoListItem is the shape of a todo in list responses; the owner is
// implied by the token and not echoed back.
type todoListItem struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
}

func toListItems(todos []todo) []todoListItem {
	items := make([]todoListItem, 0, len(todos))
	for _, t := range todos {
		items = append(items, todoListItem{
			ID:        t.ID,
			Content:   t.Content,
			Completed: t.Completed,
			CreatedAt: t.CreatedAt,
		})
	}
	return items
}
