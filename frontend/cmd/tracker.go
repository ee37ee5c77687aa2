package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	ishell "github.com/abiosoft/ishell"
	"github.com/common-nighthawk/go-figure"
	"github.com/jurijkreutz/determined/backend/catalog"
	"github.com/jurijkreutz/determined/backend/dates"
	"github.com/jurijkreutz/determined/backend/models"
	"github.com/jurijkreutz/determined/frontend/client"
	"github.com/jurijkreutz/determined/lib/utils"
)

// trackerCommands is a slice of Command structures containing the commands for working with days, activities, todos and quests.
var trackerCommands []Command

// commonCommands is a slice of Command structures containing commands that are always available.
var commonCommands []Command

// shell is the interactive shell the tracker runs in; every user-facing
// command is registered on it.
var shell *ishell.Shell

// Command describes one shell command: its name, a short description shown
// by help, and the function that runs when it is invoked.
type Command struct {
	Name string
	Desc string
	Func func(c *ishell.Context)
}

// readDate prompts until the input is empty or a well-formed date, and
// returns it. An empty input means today.
func readDate(c *ishell.Context, prompt string) string {
	for {
		c.Print(prompt)
		date := strings.TrimSpace(c.ReadLine())
		if date == "" || utils.ValidateDate(date) {
			return date
		}
		c.Println("Dates look like 2024-03-12.")
	}
}

// readNonEmpty prompts until the input is non-empty and returns it.
func readNonEmpty(c *ishell.Context, prompt, complaint string) string {
	for {
		c.Print(prompt)
		input := strings.TrimSpace(c.ReadLine())
		if input != "" {
			return input
		}
		c.Println(complaint)
	}
}

// printCatalog prints the activity catalog grouped by category.
func printCatalog(c *ishell.Context, entries []catalog.Entry) {
	category := ""
	for _, entry := range entries {
		if entry.Category != category {
			category = entry.Category
			c.Println()
			c.Println(category + ":")
		}

		line := fmt.Sprintf("  |-- '%s' : %s (%d points", entry.ID, entry.Name, entry.Points)
		if entry.IsDiminishing {
			line += ", diminishing"
		}
		if entry.DailyCap > 0 {
			line += fmt.Sprintf(", max %d/day", entry.DailyCap)
		}
		if entry.WeeklyCap > 0 {
			line += fmt.Sprintf(", max %d/week", entry.WeeklyCap)
		}
		c.Println(line + ")")
	}
	c.Println()
}

// InitTrackerCmd is a function that initializes the tracker commands.
// It initializes the shell and sets up the commands for logging activities,
// inspecting days and streaks, and managing todos, quests and backups.
func InitTrackerCmd() {

	// Initialize shell
	shell = ishell.New()

	trackerCommands = []Command{
		{
			Name: "log",
			Desc: "Log an activity for a day",
			Func: func(c *ishell.Context) {
				var id string
				for {
					c.Print("Enter activity id ('catalog' to list, 'custom' for your own): ")
					id = strings.TrimSpace(c.ReadLine())

					if id == "catalog" {
						entries, err := client.GetCatalog()
						if err != nil {
							utils.PrintError(err.Error())
							return
						}
						printCatalog(c, entries)
						continue
					}
					if id != "" {
						break
					}
					c.Println("Activity id cannot be empty.")
				}

				date := readDate(c, "Enter date (YYYY-MM-DD, empty for today): ")

				if id == "custom" {
					name := readNonEmpty(c, "Enter a name for the activity: ", "Name cannot be empty.")

					var points int
					for {
						c.Print(fmt.Sprintf("Enter points (1-%d): ", utils.MaxCustomPoints))
						parsed, err := strconv.Atoi(strings.TrimSpace(c.ReadLine()))
						if err == nil && utils.ValidateCustomPoints(parsed) {
							points = parsed
							break
						}
						c.Println(fmt.Sprintf("Points must be a whole number between 1 and %d.", utils.MaxCustomPoints))
					}

					activity, err := client.LogCustomActivity(name, points, date)
					if err != nil {
						utils.PrintError(err.Error())
						return
					}
					c.Println(fmt.Sprintf("Logged '%s' for %d points.", activity.Name, activity.AwardedPoints))
					return
				}

				activity, err := client.LogActivity(id, date)
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				if activity.AwardedPoints < activity.BasePoints {
					c.Println(fmt.Sprintf("Logged '%s' for %d points (diminished from %d).", activity.Name, activity.AwardedPoints, activity.BasePoints))
				} else {
					c.Println(fmt.Sprintf("Logged '%s' for %d points.", activity.Name, activity.AwardedPoints))
				}
			},
		},
		{
			Name: "rm",
			Desc: "Remove a logged activity",
			Func: func(c *ishell.Context) {
				id := readNonEmpty(c, "Enter the activity id to remove: ", "Activity id cannot be empty.")

				if err := client.DeleteActivity(id); err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Println("Activity removed. The day's points were re-derived.")
			},
		},
		{
			Name: "day",
			Desc: "Show a day's points, tier and activities",
			Func: func(c *ishell.Context) {
				date := readDate(c, "Enter date (YYYY-MM-DD, empty for today): ")
				if date == "" {
					date = dates.Today()
				}

				day, err := client.GetDay(date)
				if err != nil {
					utils.PrintError(err.Error())
					return
				}

				record := day.Record
				c.Println()
				c.Println(fmt.Sprintf("%s -- %d points (tier %d)", record.Date, record.TotalPoints, record.Tier))
				if record.HasPenalty {
					c.Println(fmt.Sprintf("Penalty applied: -%d points", record.PenaltyPoints))
				}
				if record.HasStreakProtection {
					c.Println("Recovery day: the streak is protected.")
				}
				if record.HasBonus {
					c.Println("Recovery bonus earned for tomorrow.")
				}
				c.Println(record.StreakMessage)
				c.Println()

				if len(day.Activities) == 0 {
					c.Println("No activities logged.")
					return
				}
				for _, activity := range day.Activities {
					line := fmt.Sprintf("  |-- %s : %d points", activity.Name, activity.AwardedPoints)
					if activity.Factor < 1.0 {
						line += fmt.Sprintf(" (x%.2f)", activity.Factor)
					}
					c.Println(line + "  [" + activity.ID.Hex() + "]")
				}
				c.Println()
			},
		},
		{
			Name: "streak",
			Desc: "Show the streak state of a day",
			Func: func(c *ishell.Context) {
				date := readDate(c, "Enter date (YYYY-MM-DD, empty for today): ")
				if date == "" {
					date = dates.Today()
				}

				streak, err := client.GetStreak(date)
				if err != nil {
					utils.PrintError(err.Error())
					return
				}

				c.Println()
				c.Println(fmt.Sprintf("Streak: %d (%s)", streak.StreakCount, streak.StreakStatus))
				if streak.LowPointDaysInARow > 0 {
					c.Println(fmt.Sprintf("Low-point days in a row: %d", streak.LowPointDaysInARow))
				}
				c.Println(streak.StreakMessage)
				c.Println()
			},
		},
		{
			Name: "catalog",
			Desc: "List all predefined activities",
			Func: func(c *ishell.Context) {
				entries, err := client.GetCatalog()
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				printCatalog(c, entries)
			},
		},
		{
			Name: "todo",
			Desc: "Manage todos: add, done, list [overdue], rm",
			Func: func(c *ishell.Context) {
				action := ""
				if len(c.Args) > 0 {
					action = strings.ToLower(c.Args[0])
				}
				for action != "add" && action != "done" && action != "list" && action != "rm" {
					c.Print("What do you want to do? (add/done/list/rm): ")
					action = strings.ToLower(strings.TrimSpace(c.ReadLine()))
				}

				switch action {
				case "add":
					title := readNonEmpty(c, "Enter a title: ", "Title cannot be empty.")
					dueDate := readDate(c, "Enter due date (YYYY-MM-DD, empty for today): ")
					if dueDate == "" {
						dueDate = dates.Today()
					}
					c.Print("Link a catalog activity id (empty for none): ")
					catalogID := strings.TrimSpace(c.ReadLine())

					todo, err := client.AddTodo(title, dueDate, catalogID)
					if err != nil {
						utils.PrintError(err.Error())
						return
					}
					c.Println(fmt.Sprintf("Todo added for %s.  [%s]", todo.DueDate, todo.ID.Hex()))

				case "done":
					id := readNonEmpty(c, "Enter the todo id: ", "Todo id cannot be empty.")

					completion, err := client.CompleteTodo(id)
					if err != nil {
						utils.PrintError(err.Error())
						return
					}
					if completion.Activity != nil {
						c.Println(fmt.Sprintf("Done! '%s' was logged for %d points.", completion.Activity.Name, completion.Activity.AwardedPoints))
					} else {
						c.Println("Done!")
					}

				case "list":
					scope := ""
					if len(c.Args) > 1 {
						scope = strings.ToLower(c.Args[1])
					}

					var (
						todos []models.Todo
						err   error
					)
					if scope == "overdue" {
						todos, err = client.GetOverdueTodos()
					} else {
						date := readDate(c, "Enter due date (YYYY-MM-DD, empty for all open): ")
						todos, err = client.GetTodos(date)
					}
					if err != nil {
						utils.PrintError(err.Error())
						return
					}
					if len(todos) == 0 {
						c.Println("No todos found.")
						return
					}
					c.Println()
					for _, todo := range todos {
						marker := "[ ]"
						if todo.Done {
							marker = "[x]"
						}
						line := fmt.Sprintf("  |-- %s %s (due %s)", marker, todo.Title, todo.DueDate)
						if todo.Penalized {
							line += " (penalized)"
						}
						c.Println(line + "  [" + todo.ID.Hex() + "]")
					}
					c.Println()

				case "rm":
					id := readNonEmpty(c, "Enter the todo id: ", "Todo id cannot be empty.")

					if err := client.DeleteTodo(id); err != nil {
						utils.PrintError(err.Error())
						return
					}
					c.Println("Todo removed.")
				}
			},
		},
		{
			Name: "quest",
			Desc: "Show today's mystery quest",
			Func: func(c *ishell.Context) {
				view, err := client.GetQuest()
				if err != nil {
					utils.PrintError(err.Error())
					return
				}

				c.Println()
				c.Println(fmt.Sprintf("Today's mystery quest: %s (%d points)", view.Quest.Name, view.Quest.RewardPoints))
				c.Println(view.Quest.Description)
				if view.Completed {
					c.Println("Already completed today. Well done!")
					c.Println()
					return
				}

				for {
					c.Print("Complete it now? (yes/no): ")
					response := strings.ToLower(strings.TrimSpace(c.ReadLine()))
					if response == "no" {
						return
					}
					if response == "yes" {
						break
					}
					c.Println("Invalid response. Please type 'yes' or 'no'.")
				}

				activity, err := client.CompleteQuest()
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Println(fmt.Sprintf("Quest completed for %d points.", activity.AwardedPoints))
			},
		},
		{
			Name: "suggest",
			Desc: "Suggest an activity for an empty slot in your day",
			Func: func(c *ishell.Context) {
				view, err := client.GetQuest()
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				if view.Suggestion == nil {
					c.Println("No suggestion right now.")
					return
				}

				suggestion := view.Suggestion
				c.Println(fmt.Sprintf("How about '%s'? %d points, %s. Use 'log' with id '%s'.",
					suggestion.Name, suggestion.Points, strings.ToLower(suggestion.Category), suggestion.ID))
			},
		},
		{
			Name: "backup",
			Desc: "Export or restore a CSV backup: backup export, backup restore",
			Func: func(c *ishell.Context) {
				action := ""
				if len(c.Args) > 0 {
					action = strings.ToLower(c.Args[0])
				}
				for action != "export" && action != "restore" {
					c.Print("What do you want to do? (export/restore): ")
					action = strings.ToLower(strings.TrimSpace(c.ReadLine()))
				}

				c.Print("Enter file path (empty for determined-backup.csv): ")
				path := strings.TrimSpace(c.ReadLine())
				if path == "" {
					path = "determined-backup.csv"
				}

				if action == "export" {
					if err := client.ExportBackup(path); err != nil {
						utils.PrintError(err.Error())
						return
					}
					utils.PrintBanner("Backup written to " + path)
					return
				}

				for {
					c.Print("Restoring replaces all current data. Continue? (yes/no): ")
					response := strings.ToLower(strings.TrimSpace(c.ReadLine()))
					if response == "no" {
						return
					}
					if response == "yes" {
						break
					}
					c.Println("Invalid response. Please type 'yes' or 'no'.")
				}

				result, err := client.RestoreBackup(path)
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				utils.PrintBanner(fmt.Sprintf("Restored %d days, %d activities and %d todos", result.Days, result.Activities, result.Todos))
			},
		},
	}

	// Define common commands that are always available
	commonCommands = []Command{
		{
			Name: "exit",
			Desc: "Exit the application",
			Func: func(c *ishell.Context) {
				fmt.Println("Goodbye!")
				os.Exit(0)
			},
		},
	}

	// help is appended afterwards so it can iterate both command slices
	commonCommands = append(commonCommands, Command{
		Name: "help",
		Desc: "List available commands",
		Func: func(c *ishell.Context) {
			c.Println("Available commands:")
			for _, command := range trackerCommands {
				c.Println("  |-- '" + command.Name + "' : " + command.Desc)
			}
			for _, command := range commonCommands {
				c.Println("  |-- '" + command.Name + "' : " + command.Desc)
			}
			c.Println()
		},
	})
}

// addCommands registers a command slice on the shell.
func addCommands(shell *ishell.Shell, commands []Command) {
	for _, command := range commands {
		shell.AddCmd(&ishell.Cmd{
			Name: command.Name,
			Help: "Command: " + command.Name,
			Func: command.Func,
		})
	}
}

// Execute prints the banner, registers all commands and runs the shell
// until the user exits.
func Execute() {
	shell.Println()
	figure.NewFigure("Determined", "basic", true).Print()
	shell.Println("Welcome to Determined -- the productivity tracker CLI. Type 'help' to see a list of commands.")

	addCommands(shell, commonCommands)
	addCommands(shell, trackerCommands)

	shell.Run()
}
