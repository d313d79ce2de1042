package tasks

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// CSVHeader 文件首行
	CSVHeader = "id,type,name,status,description,epic,startTime,duration"
	// CSVTimeLayout 开始时间格式，精确到分钟
	CSVTimeLayout = "02.01.06 15:04"

	csvDelimiter = ","
	csvColumns   = 8

	// two-digit years cover 2000-2099
	csvMinYear = 2000
	csvMaxYear = 2099
)

// MaxDurationMinutes is the largest duration in minutes a time.Duration holds.
const MaxDurationMinutes = math.MaxInt64 / int64(time.Minute)

// Record 一条扁平化的持久化记录
type Record struct {
	ID              int
	Kind            Kind
	Name            string
	Status          Status
	Description     string
	EpicID          int
	StartTime       *time.Time
	DurationMinutes *int64
}

// RecordFromTask 把实体转换为记录
func RecordFromTask(t *Task) Record {
	r := Record{
		ID:          t.ID,
		Kind:        t.Kind,
		Name:        t.Name,
		Status:      t.Status,
		Description: t.Description,
		StartTime:   copyTime(t.StartTime),
	}
	if t.Kind == KindSubtask {
		r.EpicID = t.EpicID
	}
	if t.Duration != nil {
		minutes := int64(*t.Duration / time.Minute)
		r.DurationMinutes = &minutes
	}
	return r
}

// Task 把记录还原为实体
func (r Record) Task() *Task {
	t := &Task{
		ID:          r.ID,
		Kind:        r.Kind,
		Name:        r.Name,
		Status:      r.Status,
		Description: r.Description,
		StartTime:   copyTime(r.StartTime),
	}
	if r.Kind == KindSubtask {
		t.EpicID = r.EpicID
	}
	if r.DurationMinutes != nil {
		d := time.Duration(*r.DurationMinutes) * time.Minute
		t.Duration = &d
	}
	return t
}

// CSVCodec encodes records as comma separated lines. Text fields are not
// escaped, so names and descriptions must not contain commas or line
// breaks; such values are rejected rather than written.
type CSVCodec struct {
	// Location 读写时间列所用的时区，nil 表示 time.Local
	Location *time.Location
}

func (c CSVCodec) location() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}

// Check reports whether r can be written and read back unchanged.
func (c CSVCodec) Check(r Record) error {
	for _, field := range []string{r.Name, r.Description} {
		if strings.ContainsAny(field, ",\r\n") {
			return fmt.Errorf("field %q contains a delimiter", field)
		}
	}
	if r.StartTime != nil {
		if year := r.StartTime.In(c.location()).Year(); year < csvMinYear || year > csvMaxYear {
			return fmt.Errorf("start year %d outside %d-%d", year, csvMinYear, csvMaxYear)
		}
	}
	return nil
}

// Encode 编码一条记录
func (c CSVCodec) Encode(r Record) (string, error) {
	if err := c.Check(r); err != nil {
		return "", fmt.Errorf("%w: record %d: %v", ErrSaveFailed, r.ID, err)
	}

	fields := make([]string, 0, csvColumns)
	fields = append(fields,
		strconv.Itoa(r.ID),
		string(r.Kind),
		r.Name,
		string(r.Status),
		r.Description,
	)
	if r.Kind == KindSubtask {
		fields = append(fields, strconv.Itoa(r.EpicID))
	} else {
		fields = append(fields, "")
	}
	if r.StartTime != nil {
		fields = append(fields, r.StartTime.In(c.location()).Format(CSVTimeLayout))
	} else {
		fields = append(fields, "")
	}
	if r.DurationMinutes != nil {
		fields = append(fields, strconv.FormatInt(*r.DurationMinutes, 10))
	} else {
		fields = append(fields, "")
	}
	return strings.Join(fields, csvDelimiter), nil
}

// Decode 解析一条记录
func (c CSVCodec) Decode(line string) (Record, error) {
	var r Record
	fields := strings.Split(line, csvDelimiter)
	if len(fields) != csvColumns {
		return r, fmt.Errorf("%w: expected %d columns, got %d", ErrSaveFailed, csvColumns, len(fields))
	}

	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return r, fmt.Errorf("%w: bad id %q", ErrSaveFailed, fields[0])
	}
	r.ID = id

	r.Kind = Kind(fields[1])
	if !IsValidKind(r.Kind) {
		return r, fmt.Errorf("%w: record %d: bad type %q", ErrSaveFailed, id, fields[1])
	}
	r.Name = fields[2]
	r.Status = Status(fields[3])
	if !IsValidStatus(r.Status) {
		return r, fmt.Errorf("%w: record %d: bad status %q", ErrSaveFailed, id, fields[3])
	}
	r.Description = fields[4]

	if r.Kind == KindSubtask {
		epicID, err := strconv.Atoi(fields[5])
		if err != nil {
			return r, fmt.Errorf("%w: record %d: bad epic %q", ErrSaveFailed, id, fields[5])
		}
		r.EpicID = epicID
	}

	if fields[6] != "" {
		start, err := time.ParseInLocation(CSVTimeLayout, fields[6], c.location())
		if err != nil {
			return r, fmt.Errorf("%w: record %d: bad start time %q", ErrSaveFailed, id, fields[6])
		}
		if start.Year() < csvMinYear {
			// time.Parse maps yy 69-99 to 19yy
			start = time.Date(start.Year()+100, start.Month(), start.Day(), start.Hour(), start.Minute(), 0, 0, start.Location())
		}
		r.StartTime = &start
	}
	if fields[7] != "" {
		minutes, err := strconv.ParseInt(fields[7], 10, 64)
		if err != nil || minutes < 0 || minutes > MaxDurationMinutes {
			return r, fmt.Errorf("%w: record %d: bad duration %q", ErrSaveFailed, id, fields[7])
		}
		r.DurationMinutes = &minutes
	}
	return r, nil
}
