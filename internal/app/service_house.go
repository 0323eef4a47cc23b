package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"jaracar/api/internal/search"
	"jaracar/api/internal/storage"
	"jaracar/api/internal/store"
	"jaracar/api/internal/util"
)

const dateLayout = "2006-01-02"

// ---- rooms ----

// ListRooms returns every room with its current occupants.
func (s *Service) ListRooms(ctx context.Context) ([]map[string]any, error) {
	rooms, err := s.store.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	assignments, err := s.store.ListActiveAssignments(ctx)
	if err != nil {
		return nil, err
	}

	occupants := make(map[string][]map[string]any)
	for _, a := range assignments {
		occupants[a.RoomID] = append(occupants[a.RoomID], map[string]any{
			"userId":    a.UserID,
			"userName":  a.UserName,
			"startedAt": a.StartedAt,
		})
	}

	items := make([]map[string]any, 0, len(rooms))
	for _, room := range rooms {
		occ := occupants[room.ID]
		if occ == nil {
			occ = []map[string]any{}
		}
		items = append(items, map[string]any{
			"id":        room.ID,
			"number":    room.Number,
			"floor":     room.Floor,
			"capacity":  room.Capacity,
			"notes":     room.Notes,
			"occupants": occ,
		})
	}
	return items, nil
}

func (s *Service) CreateRoom(ctx context.Context, number string, floor, capacity int, notes string) (map[string]any, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, errValidation("room number is required")
	}
	if capacity <= 0 {
		capacity = 1
	}
	room := store.Room{
		ID:       util.NewID("room"),
		Number:   number,
		Floor:    floor,
		Capacity: capacity,
		Notes:    strings.TrimSpace(notes),
	}
	if err := s.store.InsertRoom(ctx, room); err != nil {
		return nil, err
	}
	return map[string]any{
		"id": room.ID, "number": room.Number, "floor": room.Floor,
		"capacity": room.Capacity, "notes": room.Notes,
	}, nil
}

func (s *Service) UpdateRoom(ctx context.Context, roomID, number string, floor, capacity int, notes string) error {
	number = strings.TrimSpace(number)
	if number == "" {
		return errValidation("room number is required")
	}
	ok, err := s.store.UpdateRoom(ctx, store.Room{
		ID: roomID, Number: number, Floor: floor, Capacity: capacity, Notes: strings.TrimSpace(notes),
	})
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound("room not found")
	}
	return nil
}

func (s *Service) DeleteRoom(ctx context.Context, roomID string) error {
	return s.store.DeleteRoom(ctx, roomID)
}

// AssignRoom moves a resident into a room. Any active assignment of theirs
// ends at the same moment.
func (s *Service) AssignRoom(ctx context.Context, roomID, userID string) (map[string]any, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, errNotFound("room not found")
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, errNotFound("resident not found")
	}

	assignments, err := s.store.ListActiveAssignments(ctx)
	if err != nil {
		return nil, err
	}
	occupied := 0
	for _, a := range assignments {
		if a.RoomID == roomID && a.UserID != userID {
			occupied++
		}
	}
	if occupied >= room.Capacity {
		return nil, errConflict("ROOM_FULL", "room is at capacity")
	}

	assignmentID := util.NewID("asg")
	if err := s.store.AssignRoom(ctx, assignmentID, roomID, userID); err != nil {
		return nil, err
	}
	return map[string]any{
		"assignmentId": assignmentID,
		"roomId":       room.ID,
		"roomNumber":   room.Number,
		"userId":       user.ID,
		"userName":     user.DisplayName,
	}, nil
}

// MyRoom returns the viewer's active assignment, or assigned=false.
func (s *Service) MyRoom(ctx context.Context, sess Session) (map[string]any, error) {
	assignment, err := s.store.GetActiveAssignment(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return map[string]any{"assigned": false}, nil
	}
	room, err := s.store.GetRoom(ctx, assignment.RoomID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"assigned":  true,
		"roomId":    room.ID,
		"number":    room.Number,
		"floor":     room.Floor,
		"startedAt": assignment.StartedAt,
	}, nil
}

// ---- absences ----

// RequestAbsence files a pending absence. Overlapping an existing pending or
// approved absence is rejected.
func (s *Service) RequestAbsence(ctx context.Context, sess Session, startDate, endDate, reason string) (map[string]any, error) {
	start, err := time.Parse(dateLayout, startDate)
	if err != nil {
		return nil, errValidation("startDate must be YYYY-MM-DD")
	}
	end, err := time.Parse(dateLayout, endDate)
	if err != nil {
		return nil, errValidation("endDate must be YYYY-MM-DD")
	}
	if end.Before(start) {
		return nil, errValidation("endDate must not be before startDate")
	}

	overlaps, err := s.store.AbsenceOverlaps(ctx, sess.UserID, start, end)
	if err != nil {
		return nil, err
	}
	if overlaps {
		return nil, errConflict("ABSENCE_OVERLAP", "an absence request already covers part of this period")
	}

	absence := store.Absence{
		ID:        util.NewID("abs"),
		UserID:    sess.UserID,
		StartDate: start,
		EndDate:   end,
		Reason:    strings.TrimSpace(reason),
		Status:    "PENDING",
	}
	if err := s.store.InsertAbsence(ctx, absence); err != nil {
		return nil, err
	}
	return absencePayload(absence), nil
}

func (s *Service) ListMyAbsences(ctx context.Context, sess Session) ([]map[string]any, error) {
	absences, err := s.store.ListAbsences(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	return absencePayloads(absences), nil
}

func (s *Service) ListAllAbsences(ctx context.Context) ([]map[string]any, error) {
	absences, err := s.store.ListAllAbsences(ctx)
	if err != nil {
		return nil, err
	}
	return absencePayloads(absences), nil
}

// DecideAbsence approves or rejects a pending request and notifies the
// resident by email when possible.
func (s *Service) DecideAbsence(ctx context.Context, sess Session, absenceID string, approve bool, comment string) (map[string]any, error) {
	status := "REJECTED"
	if approve {
		status = "APPROVED"
	}

	ok, err := s.store.DecideAbsence(ctx, absenceID, status, sess.UserName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errConflict("ALREADY_DECIDED", "absence request is not pending")
	}

	absence, err := s.store.GetAbsence(ctx, absenceID)
	if err != nil {
		return nil, err
	}

	if s.SMTPConfigured() {
		if resident, err := s.store.GetUserByID(ctx, absence.UserID); err == nil && resident.Email != "" {
			go func() {
				err := s.mail.SendAbsenceDecisionEmail(
					resident.Email, resident.DisplayName,
					absence.StartDate.Format(dateLayout), absence.EndDate.Format(dateLayout),
					approve, comment,
				)
				if err != nil {
					log.Printf("email: absence decision to %s: %v", resident.ID, err)
				}
			}()
		}
	}

	return absencePayload(absence), nil
}

// CancelAbsence lets a resident withdraw their own pending request.
func (s *Service) CancelAbsence(ctx context.Context, sess Session, absenceID string) error {
	ok, err := s.store.DeleteAbsence(ctx, absenceID, sess.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound("no pending absence with that id")
	}
	return nil
}

func absencePayload(a store.Absence) map[string]any {
	payload := map[string]any{
		"id":        a.ID,
		"userId":    a.UserID,
		"startDate": a.StartDate.Format(dateLayout),
		"endDate":   a.EndDate.Format(dateLayout),
		"reason":    a.Reason,
		"status":    a.Status,
	}
	if a.UserName != "" {
		payload["userName"] = a.UserName
	}
	if a.DecidedBy != "" {
		payload["decidedBy"] = a.DecidedBy
	}
	if a.DecidedAt != nil {
		payload["decidedAt"] = *a.DecidedAt
	}
	return payload
}

func absencePayloads(absences []store.Absence) []map[string]any {
	items := make([]map[string]any, 0, len(absences))
	for _, a := range absences {
		items = append(items, absencePayload(a))
	}
	return items
}

// ---- tasks ----

func (s *Service) ListTasks(ctx context.Context, sess Session) ([]map[string]any, error) {
	tasks, err := s.store.ListTasks(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		item := map[string]any{
			"id":        task.ID,
			"title":     task.Title,
			"done":      task.Done,
			"createdBy": task.CreatedBy,
			"createdAt": task.CreatedAt,
		}
		if task.DoneAt != nil {
			item["doneAt"] = *task.DoneAt
		}
		items = append(items, item)
	}
	return items, nil
}

// CreateTask adds a task to a resident's checklist. Staff may target any
// resident; everyone else only themselves.
func (s *Service) CreateTask(ctx context.Context, sess Session, targetUserID, title string) (map[string]any, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errValidation("task title is required")
	}
	if targetUserID == "" {
		targetUserID = sess.UserID
	}
	if targetUserID != sess.UserID && !viewerIsAdmin(sess) {
		return nil, errForbidden("cannot create tasks for other residents")
	}
	if _, err := s.store.GetUserByID(ctx, targetUserID); err != nil {
		return nil, errNotFound("resident not found")
	}

	task := store.Task{
		ID:        util.NewID("task"),
		UserID:    targetUserID,
		Title:     title,
		CreatedBy: sess.UserName,
	}
	if err := s.store.InsertTask(ctx, task); err != nil {
		return nil, err
	}
	return map[string]any{"id": task.ID, "title": task.Title, "done": false}, nil
}

func (s *Service) SetTaskDone(ctx context.Context, sess Session, taskID string, done bool) error {
	ok, err := s.store.SetTaskDone(ctx, taskID, sess.UserID, done)
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound("task not found")
	}
	return nil
}

func (s *Service) DeleteTask(ctx context.Context, sess Session, taskID string) error {
	ok, err := s.store.DeleteTask(ctx, taskID, sess.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound("task not found")
	}
	return nil
}

// ---- house guide ----

func (s *Service) ListGuide(ctx context.Context) (map[string]any, error) {
	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := s.store.ListKeyEntries(ctx)
	if err != nil {
		return nil, err
	}
	instructions, err := s.store.ListInstructions(ctx)
	if err != nil {
		return nil, err
	}
	documents, err := s.store.ListGuideDocuments(ctx)
	if err != nil {
		return nil, err
	}

	schedulePayloads := make([]map[string]any, 0, len(schedules))
	for _, sc := range schedules {
		schedulePayloads = append(schedulePayloads, map[string]any{
			"id": sc.ID, "title": sc.Title, "weekday": sc.Weekday,
			"startTime": sc.StartTime, "endTime": sc.EndTime,
			"location": sc.Location, "updatedBy": sc.UpdatedBy,
		})
	}
	keyPayloads := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		keyPayloads = append(keyPayloads, map[string]any{
			"id": k.ID, "name": k.Name, "location": k.Location,
			"notes": k.Notes, "updatedBy": k.UpdatedBy,
		})
	}
	instructionPayloads := make([]map[string]any, 0, len(instructions))
	for _, in := range instructions {
		instructionPayloads = append(instructionPayloads, map[string]any{
			"id": in.ID, "title": in.Title, "body": in.Body,
			"category": in.Category, "updatedBy": in.UpdatedBy,
		})
	}
	documentPayloads := make([]map[string]any, 0, len(documents))
	for _, doc := range documents {
		documentPayloads = append(documentPayloads, map[string]any{
			"id": doc.ID, "title": doc.Title, "contentType": doc.ContentType,
			"sizeBytes": doc.SizeBytes, "uploadedBy": doc.UploadedBy,
			"createdAt": doc.CreatedAt,
		})
	}

	return map[string]any{
		"schedules":    schedulePayloads,
		"keys":         keyPayloads,
		"instructions": instructionPayloads,
		"documents":    documentPayloads,
	}, nil
}

func (s *Service) UpsertSchedule(ctx context.Context, sess Session, id, title string, weekday int, startTime, endTime, location string) (map[string]any, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errValidation("schedule title is required")
	}
	if weekday < 0 || weekday > 6 {
		return nil, errValidation("weekday must be between 0 and 6")
	}
	if id == "" {
		id = util.NewID("sch")
	}
	schedule := store.Schedule{
		ID: id, Title: title, Weekday: weekday,
		StartTime: startTime, EndTime: endTime,
		Location: strings.TrimSpace(location), UpdatedBy: sess.UserName,
	}
	if err := s.store.UpsertSchedule(ctx, schedule); err != nil {
		return nil, err
	}
	return map[string]any{"id": id, "title": title}, nil
}

func (s *Service) DeleteSchedule(ctx context.Context, id string) error {
	ok, err := s.store.DeleteSchedule(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound("schedule not found")
	}
	return nil
}

func (s *Service) UpsertKeyEntry(ctx context.Context, sess Session, id, name, location, notes string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	location = strings.TrimSpace(location)
	if name == "" || location == "" {
		return nil, errValidation("key name and location are required")
	}
	if id == "" {
		id = util.NewID("key")
	}
	entry := store.KeyEntry{
		ID: id, Name: name, Location: location,
		Notes: strings.TrimSpace(notes), UpdatedBy: sess.UserName,
	}
	if err := s.store.UpsertKeyEntry(ctx, entry); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexGuide(search.GuideRecord{
			ID: id, Title: name, Body: location + " " + entry.Notes, Kind: search.KindKey,
		})
	}
	return map[string]any{"id": id, "name": name}, nil
}

func (s *Service) DeleteKeyEntry(ctx context.Context, id string) error {
	ok, err := s.store.DeleteKeyEntry(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound("key entry not found")
	}
	if s.search != nil {
		s.search.DeleteGuide(id)
	}
	return nil
}

func (s *Service) UpsertInstruction(ctx context.Context, sess Session, id, title, body, category string) (map[string]any, error) {
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	if title == "" || body == "" {
		return nil, errValidation("instruction title and body are required")
	}
	if id == "" {
		id = util.NewID("ins")
	}
	instruction := store.Instruction{
		ID: id, Title: title, Body: body,
		Category: strings.TrimSpace(category), UpdatedBy: sess.UserName,
	}
	if err := s.store.UpsertInstruction(ctx, instruction); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexGuide(search.GuideRecord{
			ID: id, Title: title, Body: body, Kind: search.KindInstruction,
		})
	}
	return map[string]any{"id": id, "title": title}, nil
}

func (s *Service) DeleteInstruction(ctx context.Context, id string) error {
	ok, err := s.store.DeleteInstruction(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound("instruction not found")
	}
	if s.search != nil {
		s.search.DeleteGuide(id)
	}
	return nil
}

// UploadGuideDocument streams a file into object storage and records it.
func (s *Service) UploadGuideDocument(ctx context.Context, sess Session, title, filename, contentType string, size int64, r io.Reader) (map[string]any, error) {
	if s.objects == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "File storage is not configured", nil)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = strings.TrimSuffix(path.Base(filename), path.Ext(filename))
	}
	if title == "" {
		return nil, errValidation("document title is required")
	}

	id := util.NewID("gdoc")
	objectKey := fmt.Sprintf("guide/%s/%s", id, util.Slug(path.Base(filename)))
	if err := s.objects.Put(ctx, objectKey, r, size, contentType); err != nil {
		return nil, err
	}

	doc := store.GuideDocument{
		ID:          id,
		Title:       title,
		ObjectKey:   objectKey,
		ContentType: contentType,
		SizeBytes:   size,
		UploadedBy:  sess.UserName,
	}
	if err := s.store.InsertGuideDocument(ctx, doc); err != nil {
		// Keep the bucket consistent with the table.
		_ = s.objects.Remove(ctx, objectKey)
		return nil, err
	}

	if s.search != nil {
		s.search.IndexGuide(search.GuideRecord{ID: id, Title: title, Kind: search.KindDocument})
	}

	return map[string]any{
		"id": id, "title": title, "contentType": contentType, "sizeBytes": size,
	}, nil
}

// GuideDocumentDownload returns a short-lived URL for one stored document.
func (s *Service) GuideDocumentDownload(ctx context.Context, docID string) (map[string]any, error) {
	if s.objects == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "File storage is not configured", nil)
	}
	doc, err := s.store.GetGuideDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	url, err := s.objects.PresignedGet(ctx, doc.ObjectKey, path.Base(doc.ObjectKey))
	if err != nil {
		return nil, err
	}
	return map[string]any{"url": url, "expiresIn": int(storage.DownloadTTL.Seconds())}, nil
}

func (s *Service) DeleteGuideDocument(ctx context.Context, docID string) error {
	doc, err := s.store.GetGuideDocument(ctx, docID)
	if err != nil {
		return err
	}
	ok, err := s.store.DeleteGuideDocument(ctx, docID)
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound("document not found")
	}
	if s.objects != nil {
		_ = s.objects.Remove(ctx, doc.ObjectKey)
	}
	if s.search != nil {
		s.search.DeleteGuide(docID)
	}
	return nil
}

// ---- search ----

func (s *Service) Search(ctx context.Context, sess Session, text string, filterType search.ResultType, limit, offset int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	return s.search.Search(search.Query{
		Text:          text,
		FilterType:    filterType,
		ViewerID:      sess.UserID,
		ViewerIsAdmin: viewerIsAdmin(sess),
		Limit:         limit,
		Offset:        offset,
	})
}
