package runtime

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"
)

var startTime = time.Now()

func createOSLib() *Table {
	return NewTable(nil, map[any]any{
		"clock":    Fn("os.clock", stdOSClock),
		"date":     Fn("os.date", stdOSDate),
		"difftime": Fn("os.difftime", stdOSDifftime),
		"getenv":   Fn("os.getenv", stdOSGetenv),
		"time":     Fn("os.time", stdOSTime),
	})
}

func stdOSClock(_ *VM, _ []any) ([]any, error) {
	return []any{time.Since(startTime).Seconds()}, nil
}

func stdOSGetenv(_ *VM, args []any) ([]any, error) {
	if err := assertArguments(args, "os.getenv", "string"); err != nil {
		return nil, err
	}
	val, ok := os.LookupEnv(args[0].(string))
	if !ok {
		return []any{nil}, nil
	}
	return []any{val}, nil
}

func stdOSTime(_ *VM, args []any) ([]any, error) {
	if err := assertArguments(args, "os.time", "~table"); err != nil {
		return nil, err
	}
	if len(args) == 0 || args[0] == nil {
		return []any{time.Now().Unix()}, nil
	}
	timeTable := args[0].(*Table)
	fields := map[string]int64{}
	for _, field := range []string{"year", "month", "day"} {
		val, ok := toInteger(timeTable.Get(field))
		if !ok {
			return nil, fmt.Errorf("field '%v' missing in date table", field)
		}
		fields[field] = val
	}
	hour := toIntWithDefault(timeTable.Get("hour"), 12)
	minute := toIntWithDefault(timeTable.Get("min"), 0)
	sec := toIntWithDefault(timeTable.Get("sec"), 0)
	t := time.Date(
		int(fields["year"]), time.Month(fields["month"]), int(fields["day"]),
		int(hour), int(minute), int(sec), 0, time.Local,
	)
	return []any{t.Unix()}, nil
}

func stdOSDifftime(_ *VM, args []any) ([]any, error) {
	if err := assertArguments(args, "os.difftime", "number", "~number"); err != nil {
		return nil, err
	}
	var start float64
	if len(args) > 1 {
		start = toFloat(args[1])
	}
	return []any{toFloat(args[0]) - start}, nil
}

func stdOSDate(_ *VM, args []any) ([]any, error) {
	if err := assertArguments(args, "os.date", "~string", "~number"); err != nil {
		return nil, err
	}
	format := "%c"
	if len(args) > 0 && args[0] != nil {
		format = args[0].(string)
	}
	fmtTime := time.Now()
	if len(args) > 1 && args[1] != nil {
		sec, _ := toInteger(args[1])
		fmtTime = time.Unix(sec, 0)
	}
	if strings.HasPrefix(format, "!") {
		fmtTime = fmtTime.UTC()
	}
	format = strings.TrimPrefix(format, "!")
	if strings.TrimSpace(format) == "*t" {
		return []any{NewTable(nil, map[any]any{
			"year":  int64(fmtTime.Year()),
			"month": int64(fmtTime.Month()),
			"day":   int64(fmtTime.Day()),
			"hour":  int64(fmtTime.Hour()),
			"min":   int64(fmtTime.Minute()),
			"sec":   int64(fmtTime.Second()),
			"wday":  int64(fmtTime.Weekday() + 1),
			"yday":  int64(fmtTime.YearDay()),
			"isdst": fmtTime.IsDST(),
		})}, nil
	}
	strf, err := strftime.New(format)
	if err != nil {
		return nil, fmt.Errorf("bad argument #1 to 'os.date' (invalid conversion specifier '%v')", format)
	}
	return []any{strf.FormatString(fmtTime)}, nil
}

func toIntWithDefault(val any, def int64) int64 {
	if ival, ok := toInteger(val); ok {
		return ival
	}
	return def
}
