/*
Package backend implements the table REST backend

A backend manages a SQLite or Postgres database and provides a RESTful-API for generic
tables. A generic table has an auto-incremented primary key id_x and twenty nullable text
columns x_01 to x_20. The table of a request is selected with the query parameter "table",
then the header X-Table-Name, then the configured default table. Legacy contact tables have
their own default table, which must differ from the generic one.

Routes

	GET    /collection?table=things       list all rows, newest first
	POST   /collection?table=things       create a row from a JSON object
	GET    /collection/{id}?table=things  read a row
	PUT    /collection/{id}?table=things  update the columns present in a JSON object
	DELETE /collection/{id}?table=things  delete a row
	GET    /contacts[/{id}]               legacy contact tables, same methods
	GET    /statistics                    row counts of all generic tables
	GET    /version                       build version

Example:

	curl -X POST 'localhost:3000/collection?table=things' -d '{"x_01":"a","x_02":"b"}'

returns

	{
	  "success": true,
	  "table": "things",
	  "id_x": 1,
	  "message": "Record created successfully",
	  "insertedFields": ["x_01","x_02"],
	  "insertedData": {"x_01":"a","x_02":"b"}
	}

Missing tables

Generic tables which do not exist are created on first use with PolicyCreate. With
PolicyReject, requests for missing tables answer 404. Contact tables are never created.
A table with the layout of the other variant answers 409 and is not touched.

Errors

Every error answer is a JSON object with an "error" field. Invalid table names, missing
ids, malformed payloads and payloads without any x_NN field answer 400. A PUT without
JSON content type answers 415, unknown rows 404 and unsupported methods 405.

Every response carries X-Request-ID, the id sent by the caller or a new one.

Notifications

If the builder has a Notifier, every successful create, update and delete is published
as notifier.RowChange.
*/
package backend
